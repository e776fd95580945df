package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/nhirsama/goster-pixy/src/inter"
	"github.com/sigurn/crc16"
)

// PixyCodec 实现 inter.ProtocolCodec 接口
type PixyCodec struct{}

// NewPixyCodec 创建一个新的编解码器实例
func NewPixyCodec() inter.ProtocolCodec {
	return &PixyCodec{}
}

// 初始化 Modbus CRC16 表
var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

func crc16Modbus(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// 头部中被 CRC16 覆盖的长度 (Offset 0-15)
const headerCovered = 16

var magicBytes = []byte{byte(inter.MagicNumber & 0xFF), byte(inter.MagicNumber >> 8)}

func (c *PixyCodec) Pack(p *inter.Packet) ([]byte, error) {
	payloadLen := len(p.Payload)
	if uint32(payloadLen) > inter.MaxPayloadSize {
		return nil, fmt.Errorf("payload过大: %d", payloadLen)
	}

	totalSize := int(inter.HeaderSize) + payloadLen + int(inter.FooterSize)
	buf := make([]byte, inter.HeaderSize, totalSize)

	// 填充头部 (Offset 0-19)
	binary.LittleEndian.PutUint16(buf[0:], inter.MagicNumber)
	buf[2] = inter.ProtocolVersion
	buf[3] = byte(p.Kind)
	buf[4] = p.Flags
	binary.LittleEndian.PutUint16(buf[6:], uint16(p.ProcID))
	binary.LittleEndian.PutUint32(buf[8:], p.Seq)
	binary.LittleEndian.PutUint32(buf[12:], uint32(payloadLen))
	binary.LittleEndian.PutUint16(buf[16:], crc16Modbus(buf[:headerCovered]))
	// buf[18:20] 是填充位，已为 0

	buf = append(buf, p.Payload...)

	// Footer: Header + Payload 的 CRC32
	sum := crc32.ChecksumIEEE(buf)
	buf = binary.LittleEndian.AppendUint32(buf, sum)

	return buf, nil
}

// parseHeader 校验并解析头部，返回 Payload 长度
func parseHeader(header []byte) (*inter.Packet, uint32, error) {
	magic := binary.LittleEndian.Uint16(header[0:])
	if magic != inter.MagicNumber {
		return nil, 0, fmt.Errorf("%w: 无效Magic 0x%X", inter.ErrProtocol, magic)
	}

	expectedCRC := binary.LittleEndian.Uint16(header[16:])
	actualCRC := crc16Modbus(header[:headerCovered])
	if expectedCRC != actualCRC {
		return nil, 0, fmt.Errorf("%w: 头部CRC校验失败: 期望 0x%X, 实际 0x%X", inter.ErrProtocol, expectedCRC, actualCRC)
	}

	length := binary.LittleEndian.Uint32(header[12:])
	if length > inter.MaxPayloadSize {
		return nil, 0, fmt.Errorf("%w: 接收到的Payload过大: %d", inter.ErrProtocol, length)
	}

	return &inter.Packet{
		Kind:   inter.PacketKind(header[3]),
		Flags:  header[4],
		ProcID: inter.ProcID(binary.LittleEndian.Uint16(header[6:])),
		Seq:    binary.LittleEndian.Uint32(header[8:]),
	}, length, nil
}

func checkFooter(header, payload, footer []byte) error {
	chk := crc32.NewIEEE()
	chk.Write(header)
	chk.Write(payload)
	actualSum := chk.Sum32()

	expectedSum := binary.LittleEndian.Uint32(footer)
	if actualSum != expectedSum {
		return fmt.Errorf("%w: payload CRC32校验失败: 期望 0x%X, 实际 0x%X", inter.ErrProtocol, expectedSum, actualSum)
	}
	return nil
}

func (c *PixyCodec) Unpack(r io.Reader) (*inter.Packet, error) {
	// 读取 Header (20 Bytes)
	headerBuf := make([]byte, inter.HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err
	}

	packet, length, err := parseHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	// 读取 Payload + Footer (一次性读取)
	bodyBuf := make([]byte, length+inter.FooterSize)
	if _, err := io.ReadFull(r, bodyBuf); err != nil {
		return nil, err
	}

	if err := checkFooter(headerBuf, bodyBuf[:length], bodyBuf[length:]); err != nil {
		return nil, err
	}

	packet.Payload = bodyBuf[:length]
	return packet, nil
}

func (c *PixyCodec) Scan(buf []byte) (*inter.Packet, []byte, error) {
	// 丢弃魔数之前的字节
	start := bytes.Index(buf, magicBytes)
	if start < 0 {
		// 保留最后一个字节，它可能是被截断的魔数
		if len(buf) > 0 && buf[len(buf)-1] == magicBytes[0] {
			return nil, buf[len(buf)-1:], nil
		}
		return nil, nil, nil
	}
	buf = buf[start:]

	if uint32(len(buf)) < inter.HeaderSize {
		return nil, buf, nil
	}

	packet, length, err := parseHeader(buf[:inter.HeaderSize])
	if err != nil {
		// 跳过这个魔数继续同步
		return nil, buf[1:], err
	}

	total := int(inter.HeaderSize + length + inter.FooterSize)
	if len(buf) < total {
		return nil, buf, nil
	}

	header := buf[:inter.HeaderSize]
	payload := buf[inter.HeaderSize : inter.HeaderSize+length]
	footer := buf[inter.HeaderSize+length : total]
	if err := checkFooter(header, payload, footer); err != nil {
		return nil, buf[total:], err
	}

	// 复制 Payload，调用方会继续复用缓冲区
	packet.Payload = append([]byte(nil), payload...)
	return packet, buf[total:], nil
}
