package simulator

import (
	"encoding/binary"

	"github.com/nhirsama/goster-pixy/src/inter"
)

// Block 一条线上检测记录 (像素边界 + 签名)
type Block struct {
	Model  uint16
	Left   uint16
	Right  uint16
	Top    uint16
	Bottom uint16
	Angle  int16 // 仅颜色编码记录
}

func appendHeader(code uint32) []byte {
	p := []byte{inter.TagTypeHint}
	p = binary.LittleEndian.AppendUint32(p, code)
	// renderFlags + width + height
	p = append(p, 0x00)
	p = binary.LittleEndian.AppendUint16(p, inter.FrameWidth)
	return binary.LittleEndian.AppendUint16(p, inter.FrameHeight)
}

// appendSection 写入 [字数(4B)] + 记录
func appendSection(p []byte, blocks []Block, colorCode bool) []byte {
	stride := 5
	if colorCode {
		stride = 6
	}
	p = binary.LittleEndian.AppendUint32(p, uint32(len(blocks)*stride))
	for _, b := range blocks {
		for _, w := range []uint16{b.Model, b.Left, b.Right, b.Top, b.Bottom} {
			p = binary.LittleEndian.AppendUint16(p, w)
		}
		if colorCode {
			p = binary.LittleEndian.AppendUint16(p, uint16(b.Angle))
		}
	}
	return p
}

// EncodeCCB1 普通检测报告
func EncodeCCB1(blocks []Block) []byte {
	return appendSection(appendHeader(inter.FormatCCB1), blocks, false)
}

// EncodeCCB2 颜色编码检测报告: 普通记录段在前，颜色编码记录段在后
func EncodeCCB2(plain, colorCoded []Block) []byte {
	p := appendSection(appendHeader(inter.FormatCCB2), plain, false)
	return appendSection(p, colorCoded, true)
}

// EncodeBA81 图像帧
func EncodeBA81(pixels []byte) []byte {
	p := appendHeader(inter.FormatBA81)
	p = binary.LittleEndian.AppendUint32(p, uint32(len(pixels)))
	return append(p, pixels...)
}
