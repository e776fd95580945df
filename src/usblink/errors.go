package usblink

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
	"github.com/nhirsama/goster-pixy/src/inter"
)

// mapError 将 libusb 错误归类到 inter 中的标准错误
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("usb: %s: %w", op, inter.ErrTimeout)
	}

	var usbErr gousb.Error
	if errors.As(err, &usbErr) {
		switch usbErr {
		case gousb.ErrorTimeout:
			return fmt.Errorf("usb: %s: %w", op, inter.ErrTimeout)
		case gousb.ErrorNoDevice:
			return fmt.Errorf("usb: %s: %w", op, inter.ErrUsbNoDevice)
		case gousb.ErrorNotFound:
			return fmt.Errorf("usb: %s: %w", op, inter.ErrUsbNotFound)
		case gousb.ErrorBusy:
			return fmt.Errorf("usb: %s: %w", op, inter.ErrUsbBusy)
		}
		return fmt.Errorf("usb: %s: %v: %w", op, usbErr, inter.ErrUsbIO)
	}

	var status gousb.TransferStatus
	if errors.As(err, &status) {
		switch status {
		case gousb.TransferTimedOut, gousb.TransferCancelled:
			return fmt.Errorf("usb: %s: %w", op, inter.ErrTimeout)
		case gousb.TransferNoDevice:
			return fmt.Errorf("usb: %s: %w", op, inter.ErrUsbNoDevice)
		}
		return fmt.Errorf("usb: %s: %v: %w", op, status, inter.ErrUsbIO)
	}

	return fmt.Errorf("usb: %s: %v: %w", op, err, inter.ErrUsbIO)
}
