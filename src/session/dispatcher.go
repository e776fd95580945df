package session

import (
	"encoding/binary"

	"github.com/nhirsama/goster-pixy/src/inter"
)

// 报告头: renderFlags(1B) + width(2B) + height(2B)
const reportHeaderSize = 5

// 记录步长 (字节)
// 普通记录 A: model, left, right, top, bottom (5 x uint16)
// 颜色编码记录 B: A + angle (6 x uint16)
const (
	strideA = 5 * 2
	strideB = 6 * 2
)

func recordStride(kind inter.BlockType) int {
	if kind == inter.BlockColorCode {
		return strideB
	}
	return strideA
}

// decodeRecord 将一条线上记录转换为检测框
func decodeRecord(kind inter.BlockType, rec []byte) inter.Detection {
	model := binary.LittleEndian.Uint16(rec[0:])
	left := binary.LittleEndian.Uint16(rec[2:])
	right := binary.LittleEndian.Uint16(rec[4:])
	top := binary.LittleEndian.Uint16(rec[6:])
	bottom := binary.LittleEndian.Uint16(rec[8:])

	d := inter.Detection{
		Type:      kind,
		Signature: model,
		Width:     right - left,
		Height:    bottom - top,
	}
	d.X = left + d.Width/2
	d.Y = top + d.Height/2

	if kind == inter.BlockColorCode {
		d.Angle = int16(binary.LittleEndian.Uint16(rec[10:]))
	}
	return d
}

// readSection 读取 [count(4B, uint16 字数)] + [records] 段
// 返回记录数据与下一段的偏移，越界时 ok 为 false
func readSection(body []byte, off int) (data []byte, next int, ok bool) {
	if off+4 > len(body) {
		return nil, 0, false
	}
	words := binary.LittleEndian.Uint32(body[off:])
	if words > inter.MaxPayloadSize {
		return nil, 0, false
	}
	n := int(words) * 2
	start := off + 4
	if start+n > len(body) {
		return nil, 0, false
	}
	return body[start : start+n], start + n, true
}

// interpret 异步数据回调，在解释器线程持有通道锁时由 ServiceStep 同步调用
func (s *Session) interpret(payload []byte) {
	if len(payload) == 0 {
		return
	}

	switch payload[0] {
	case inter.TagTypeHint:
		if len(payload) < 5 {
			s.debugf("类型提示过短 (%d 字节)，丢弃", len(payload))
			return
		}
		code := binary.LittleEndian.Uint32(payload[1:5])
		body := payload[5:]

		switch code {
		case inter.FormatBA81:
			s.interpretFrame(body)
		case inter.FormatCCB1:
			s.interpretPlainReport(body)
		case inter.FormatCCB2:
			s.interpretColorCodeReport(body)
		case inter.FormatCCQ1, inter.FormatCMV1, inter.FormatCMV2:
			// 已知格式，当前不处理
		default:
			s.debugf("未识别的格式码 0x%08X", code)
		}

	case inter.TagString:
		s.debugf("设备消息: %q", payload[1:])

	default:
		s.debugf("未知的消息类型 0x%02X", payload[0])
	}
}

// interpretFrame BA81: renderFlags(1B) + width(2B) + height(2B) + numPixels(4B) + pixels
func (s *Session) interpretFrame(body []byte) {
	const pixelsAt = reportHeaderSize + 4
	if len(body) < pixelsAt {
		s.debugf("BA81 头部过短，丢弃")
		return
	}
	numPixels := binary.LittleEndian.Uint32(body[reportHeaderSize:])
	pixels := body[pixelsAt:]
	if numPixels < inter.FrameSize || len(pixels) < inter.FrameSize {
		s.debugf("BA81 像素不足: 声明 %d, 实际 %d", numPixels, len(pixels))
		return
	}

	s.frame.Write(pixels[:inter.FrameSize], func() {
		s.waitingForFrame.Store(false)
	})
}

// interpretPlainReport CCB1: 追加普通记录，不清空缓冲区
func (s *Session) interpretPlainReport(body []byte) {
	if len(body) < reportHeaderSize {
		return
	}
	plain, _, ok := readSection(body, reportHeaderSize)
	if !ok {
		s.debugf("CCB1 记录越界，丢弃")
		return
	}

	s.detections.Ingest(false, recordGroup{kind: inter.BlockNormal, data: plain})
}

// interpretColorCodeReport CCB2: 清空缓冲区后先写颜色编码记录，再写普通记录
func (s *Session) interpretColorCodeReport(body []byte) {
	if len(body) < reportHeaderSize {
		return
	}
	plain, next, ok := readSection(body, reportHeaderSize)
	if !ok {
		s.debugf("CCB2 普通记录越界，丢弃")
		return
	}
	colorCoded, _, ok := readSection(body, next)
	if !ok {
		s.debugf("CCB2 颜色编码记录越界，丢弃")
		return
	}

	s.detections.Ingest(true,
		recordGroup{kind: inter.BlockColorCode, data: colorCoded},
		recordGroup{kind: inter.BlockNormal, data: plain},
	)
}
