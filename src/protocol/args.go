package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/nhirsama/goster-pixy/src/inter"
)

// EncodeArgs 按 [Kind(1B)] + [Value] 依次编码参数
// 标量按宽度小端写入；String 前缀 2 字节长度，Bytes 前缀 4 字节长度
func EncodeArgs(args []inter.Arg) ([]byte, error) {
	buf := make([]byte, 0, 8*len(args))
	for i, a := range args {
		buf = append(buf, byte(a.Kind))
		switch a.Kind {
		case inter.ArgUint8, inter.ArgInt8:
			buf = append(buf, byte(a.Int))
		case inter.ArgUint16, inter.ArgInt16:
			buf = binary.LittleEndian.AppendUint16(buf, uint16(a.Int))
		case inter.ArgUint32, inter.ArgInt32:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(a.Int))
		case inter.ArgString:
			if len(a.Bytes) > 0xFFFF {
				return nil, fmt.Errorf("参数 %d: 字符串过长 (%d)", i, len(a.Bytes))
			}
			buf = binary.LittleEndian.AppendUint16(buf, uint16(len(a.Bytes)))
			buf = append(buf, a.Bytes...)
		case inter.ArgBytes:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.Bytes)))
			buf = append(buf, a.Bytes...)
		default:
			return nil, fmt.Errorf("参数 %d: 未知类型 0x%02X", i, a.Kind)
		}
	}
	return buf, nil
}

// DecodeArgs 是 EncodeArgs 的逆过程
func DecodeArgs(buf []byte) ([]inter.Arg, error) {
	var out []inter.Arg
	for off := 0; off < len(buf); {
		kind := inter.ArgKind(buf[off])
		off++

		need := func(n int) error {
			if off+n > len(buf) {
				return fmt.Errorf("%w: 参数 %d 截断", inter.ErrProtocol, len(out))
			}
			return nil
		}

		a := inter.Arg{Kind: kind}
		switch kind {
		case inter.ArgUint8:
			if err := need(1); err != nil {
				return nil, err
			}
			a.Int = int64(buf[off])
			off++
		case inter.ArgInt8:
			if err := need(1); err != nil {
				return nil, err
			}
			a.Int = int64(int8(buf[off]))
			off++
		case inter.ArgUint16:
			if err := need(2); err != nil {
				return nil, err
			}
			a.Int = int64(binary.LittleEndian.Uint16(buf[off:]))
			off += 2
		case inter.ArgInt16:
			if err := need(2); err != nil {
				return nil, err
			}
			a.Int = int64(int16(binary.LittleEndian.Uint16(buf[off:])))
			off += 2
		case inter.ArgUint32:
			if err := need(4); err != nil {
				return nil, err
			}
			a.Int = int64(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		case inter.ArgInt32:
			if err := need(4); err != nil {
				return nil, err
			}
			a.Int = int64(int32(binary.LittleEndian.Uint32(buf[off:])))
			off += 4
		case inter.ArgString:
			if err := need(2); err != nil {
				return nil, err
			}
			n := int(binary.LittleEndian.Uint16(buf[off:]))
			off += 2
			if err := need(n); err != nil {
				return nil, err
			}
			a.Bytes = append([]byte{}, buf[off:off+n]...)
			off += n
		case inter.ArgBytes:
			if err := need(4); err != nil {
				return nil, err
			}
			n := binary.LittleEndian.Uint32(buf[off:])
			off += 4
			if uint64(off)+uint64(n) > uint64(len(buf)) {
				return nil, fmt.Errorf("%w: 参数 %d 截断", inter.ErrProtocol, len(out))
			}
			a.Bytes = append([]byte{}, buf[off:off+int(n)]...)
			off += int(n)
		default:
			return nil, fmt.Errorf("%w: 未知参数类型 0x%02X", inter.ErrProtocol, kind)
		}
		out = append(out, a)
	}
	return out, nil
}

// EncodeStatus 编码响应: [Status(4B, int32)] + [Args]
func EncodeStatus(status int32, values []inter.Arg) ([]byte, error) {
	body, err := EncodeArgs(values)
	if err != nil {
		return nil, err
	}
	out := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(body)), uint32(status))
	return append(out, body...), nil
}

// DecodeStatus 是 EncodeStatus 的逆过程
func DecodeStatus(payload []byte) (int32, []inter.Arg, error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("%w: 响应过短 (%d)", inter.ErrProtocol, len(payload))
	}
	status := int32(binary.LittleEndian.Uint32(payload))
	values, err := DecodeArgs(payload[4:])
	return status, values, err
}
