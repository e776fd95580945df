package simulator

import (
	"encoding/binary"
	"fmt"

	"github.com/nhirsama/goster-pixy/src/inter"
)

// 设备端过程名 -> 参数键
var setters = map[string]string{
	"led_set":           "led",
	"led_setMaxCurrent": "maxCurrent",
	"cam_setAWB":        "awb",
	"cam_setWBV":        "wbv",
	"cam_setAEC":        "aec",
	"cam_setECV":        "ecv",
	"cam_setBrightness": "brightness",
	"rcs_setFreq":       "servoFreq",
}

var getters = map[string]string{
	"led_getMaxCurrent": "maxCurrent",
	"cam_getAWB":        "awb",
	"cam_getWBV":        "wbv",
	"cam_getAEC":        "aec",
	"cam_getECV":        "ecv",
	"cam_getBrightness": "brightness",
}

func knownProcedure(name string) bool {
	if _, ok := setters[name]; ok {
		return true
	}
	if _, ok := getters[name]; ok {
		return true
	}
	switch name {
	case inter.ProcGetUID, inter.ProcGetFrame, "rcs_getPos", "rcs_setPos", "version":
		return true
	}
	return false
}

func servoKey(args []inter.Arg) string {
	if len(args) == 0 {
		return "servo0"
	}
	return fmt.Sprintf("servo%d", args[0].Int)
}

func (d *Device) callLocked(name string, p *inter.Packet, args []inter.Arg) error {
	ok := func(values ...inter.Arg) error {
		return d.respondLocked(inter.KindResponse, p, p.ProcID, 0, values...)
	}

	if key, found := setters[name]; found {
		if len(args) == 0 {
			return d.respondLocked(inter.KindResponse, p, p.ProcID, int32(inter.CodeInvalidParameter))
		}
		d.params[key] = args[0].Int
		return ok(inter.Int32(0))
	}
	if key, found := getters[name]; found {
		return ok(inter.Uint32(uint32(d.params[key])))
	}

	switch name {
	case inter.ProcGetUID:
		if d.rejectUID {
			return d.respondLocked(inter.KindResponse, p, p.ProcID, int32(inter.CodeUsbBusy))
		}
		return ok(inter.Uint32(d.uid))

	case inter.ProcGetFrame:
		if p.Flags&inter.FlagNoResponse == 0 {
			return ok(inter.Int32(0))
		}
		d.frames++
		pixels := make([]byte, inter.FrameSize)
		for i := range pixels {
			pixels[i] = d.frames + byte(i%inter.FrameWidth)
		}
		return d.emitLocked(&inter.Packet{Kind: inter.KindAsyncData, Payload: EncodeBA81(pixels)})

	case "rcs_getPos":
		return ok(inter.Int32(int32(d.params[servoKey(args)])))

	case "rcs_setPos":
		if len(args) < 2 {
			return d.respondLocked(inter.KindResponse, p, p.ProcID, int32(inter.CodeInvalidParameter))
		}
		d.params[servoKey(args)] = args[1].Int
		return ok(inter.Int32(0))

	case "version":
		v := make([]byte, 0, 6)
		for _, part := range []uint16{2, 0, 19} {
			v = binary.LittleEndian.AppendUint16(v, part)
		}
		return ok(inter.Int32(0), inter.Bytes(v))
	}

	return d.respondLocked(inter.KindResponse, p, p.ProcID, int32(inter.CodeInvalidCommand))
}
