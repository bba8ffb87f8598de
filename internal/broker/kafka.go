package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/config"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress/lz4"
)

// ReportProducer takes discovery reports from reportChan and sends them to kafka.
type ReportProducer struct {
	reportChan <-chan *model.DiscoveryReport
	cfg        *config.ProducerConfig
	log        *slog.Logger
	wg         *sync.WaitGroup
}

func NewReportProducer(reportChan <-chan *model.DiscoveryReport, cfg *config.ProducerConfig, log *slog.Logger,
	wg *sync.WaitGroup) *ReportProducer {
	return &ReportProducer{
		reportChan: reportChan,
		cfg:        cfg,
		log:        log,
		wg:         wg,
	}
}

// Run sends reports in batches. After shutdown it keeps going until reportChan is drained and closed.
func (p *ReportProducer) Run() {
	defer p.wg.Done()
	p.log.Info("starting kafka producer...", slog.String("topic", p.cfg.WriteTopicName))

	w := kafka.Writer{
		Addr:         kafka.TCP(strings.Split(p.cfg.Addr, ",")...),
		Topic:        p.cfg.WriteTopicName,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  p.cfg.MaxAttempts,
		BatchSize:    1,                // controlled by batchTicker
		BatchTimeout: time.Millisecond, // controlled by batch
		ReadTimeout:  p.cfg.ReadTimeout,
		WriteTimeout: p.cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(p.cfg.RequiredAcks),
		Async:        p.cfg.Async,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				p.log.Error("failed to send reports to kafka.", slog.String("err", err.Error()))
			}
		},
		Compression: kafka.Compression(new(lz4.Codec).Code()),
	}
	defer func() {
		if err := w.Close(); err != nil {
			p.log.Error("failed to close kafka writer.", slog.String("err", err.Error()))
		}
	}()

	batchTicker := time.NewTicker(p.cfg.BatchTimeout)
	defer batchTicker.Stop()
	batch := make([]kafka.Message, 0, p.cfg.BatchSize)
	writeMessages := func(batch []kafka.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
		defer cancel()
		if err := w.WriteMessages(ctx, batch...); err != nil {
			p.log.Error("failed to send reports to kafka.", slog.String("err", err.Error()))
			return
		}
		p.log.Debug("successfully sent reports to kafka.", slog.Int("batch length", len(batch)))
	}

	for report := range p.reportChan {
		msg, err := reportMessage(report)
		if err != nil {
			p.log.Error("marshaling error.", slog.String("err", err.Error()), slog.String("url", report.TargetURL))
			continue
		}
		batch = append(batch, msg)
		select {
		case <-batchTicker.C:
			writeMessages(batch)
			batch = make([]kafka.Message, 0, p.cfg.BatchSize)
		default:
			if len(batch) >= p.cfg.BatchSize {
				writeMessages(batch)
				batch = make([]kafka.Message, 0, p.cfg.BatchSize)
			}
		}
	}
	if len(batch) > 0 {
		p.log.Debug("reports left in batch.", slog.Int("count", len(batch)))
		writeMessages(batch)
	}
	p.log.Info("stopping kafka writer.")
}

func reportMessage(r *model.DiscoveryReport) (kafka.Message, error) {
	body, err := jsoniter.Marshal(r)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(r.TargetURL), Value: body}, nil
}

// TargetConsumer reads scraping targets from kafka and sends them to targetChan.
type TargetConsumer struct {
	targetChan chan<- model.ScrapingTarget
	cfg        *config.ConsumerConfig
	log        *slog.Logger
	wg         *sync.WaitGroup
}

func NewTargetConsumer(targetChan chan<- model.ScrapingTarget, cfg *config.ConsumerConfig, log *slog.Logger,
	wg *sync.WaitGroup) *TargetConsumer {
	return &TargetConsumer{
		targetChan: targetChan,
		cfg:        cfg,
		log:        log,
		wg:         wg,
	}
}

// Run closes targetChan and the reader when ctx is done.
func (c *TargetConsumer) Run(ctx context.Context) {
	c.log.Info("starting kafka consumer.", slog.String("topic", c.cfg.ReadTopicName))
	defer c.wg.Done()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:          strings.Split(c.cfg.Brokers, ","),
		Topic:            c.cfg.ReadTopicName,
		GroupID:          c.cfg.GroupID,
		MaxWait:          c.cfg.MaxWait,
		ReadBatchTimeout: c.cfg.ReadBatchTimeout,
	})

	for {
		select {
		case <-ctx.Done():
			c.log.Info("stopping kafka reader.")
			if err := r.Close(); err != nil {
				c.log.Error("failed to close kafka reader.", slog.String("err", err.Error()))
			}
			close(c.targetChan)
			c.log.Info("close targetChan.")
			return
		default:
			m, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.log.Error("failed to read message from kafka.", slog.String("err", err.Error()))
				}
				continue
			}

			target, err := decodeTarget(m.Value)
			if err != nil {
				c.log.Error("failed to unmarshal target.", slog.String("err", err.Error()))
				continue
			}
			c.targetChan <- target
		}
	}
}

func decodeTarget(value []byte) (model.ScrapingTarget, error) {
	var t model.ScrapingTarget
	if err := jsoniter.Unmarshal(value, &t); err != nil {
		return model.ScrapingTarget{}, fmt.Errorf("decode target: %w", err)
	}
	return t, nil
}
