package arrowio

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Roxbili/snip/internal/metrics"
	"github.com/Roxbili/snip/internal/sparsity"
)

// FlightPublisher ships mask batches to a mask store over Arrow Flight.
type FlightPublisher struct {
	addr    string
	timeout time.Duration
	client  flight.Client
}

// NewFlightPublisher prepares a publisher for the given store address.
func NewFlightPublisher(addr string) *FlightPublisher {
	return &FlightPublisher{
		addr:    addr,
		timeout: 30 * time.Second,
	}
}

// Connect dials the Flight endpoint.
func (p *FlightPublisher) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(p.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial flight store %s: %w", p.addr, err)
	}
	p.client = client
	return nil
}

// Close tears down the connection.
func (p *FlightPublisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Publish sends one round's mask set under the descriptor path
// ["masks", runID] and waits for the store's acknowledgements.
func (p *FlightPublisher) Publish(ctx context.Context, runID string, masks map[string]sparsity.Mask) error {
	if p.client == nil {
		return fmt.Errorf("flight publisher not connected, call Connect first")
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	mem := memory.NewGoAllocator()
	rec := NewMaskRecord(mem, masks)
	defer rec.Release()

	stream, err := p.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("open DoPut stream: %w", err)
	}
	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{"masks", runID},
	})
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("write mask batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close record writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close DoPut stream: %w", err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("mask store rejected batch: %w", err)
		}
	}
	metrics.RecordPublish(time.Since(start))
	return nil
}
