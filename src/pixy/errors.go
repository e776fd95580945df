package pixy

import (
	"fmt"

	"github.com/nhirsama/goster-pixy/src/inter"
)

var errorText = map[int]string{
	inter.CodeSuccess:             "Success",
	inter.CodeNotFound:            "Pixy Error: Device not found",
	inter.CodeUsbIO:               "USB Error: I/O",
	inter.CodeUsbBusy:             "USB Error: Busy",
	inter.CodeUsbNoDevice:         "USB Error: No device",
	inter.CodeUsbNotFound:         "USB Error: Target not found",
	inter.CodeInvalidParameter:    "Pixy Error: Invalid parameter",
	inter.CodeProtocol:            "Chirp Protocol Error",
	inter.CodeInvalidCommand:      "Pixy Error: Invalid command",
	inter.CodeTimeout:             "Chirp Error: Timeout",
	inter.CodeNotRunning:          "Pixy Error: Session not running",
	inter.CodeFrameRequestPending: "Pixy Error: Frame request pending",
}

// ErrorText 错误码的可读描述
func ErrorText(code int) string {
	if text, ok := errorText[code]; ok {
		return text
	}
	return fmt.Sprintf("Undefined error: [%d]", code)
}
