package broker

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
	"github.com/nhirsama/goster-pixy/src/inter"
)

// SubjectAll 汇总主题，所有设备的检测批次都会发布到这里
const SubjectAll = "pixy.blocks.all"

// Publisher 是 *nats.Conn 的发布子集
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NatsPublisher 将检测批次以 JSON 发布到 NATS，实现 inter.DetectionSink
type NatsPublisher struct {
	conn Publisher
}

// NewNatsPublisher 包装一个已建立的连接
func NewNatsPublisher(conn Publisher) *NatsPublisher {
	return &NatsPublisher{conn: conn}
}

// Connect 连接 NATS 服务器
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("goster-pixy"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("Broker: NATS 连接断开: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("Broker: NATS 已重连 %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: 连接 NATS 失败: %w", err)
	}
	return nc, nil
}

// Subject 单台设备的检测主题
func Subject(deviceID uint32) string {
	return fmt.Sprintf("pixy.%08x.blocks", deviceID)
}

func (p *NatsPublisher) SaveBatch(batch inter.DetectionBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(Subject(batch.DeviceID), data); err != nil {
		return fmt.Errorf("broker: 发布 %s: %w", Subject(batch.DeviceID), err)
	}
	if err := p.conn.Publish(SubjectAll, data); err != nil {
		return fmt.Errorf("broker: 发布 %s: %w", SubjectAll, err)
	}
	return nil
}
