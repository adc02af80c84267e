package mocks

import (
	"context"
	"sync"

	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/stretchr/testify/mock"
)

// MockTransferGateway is a testify mock of ports.TransferGateway.
type MockTransferGateway struct {
	mock.Mock
}

func (m *MockTransferGateway) Transfer(ctx context.Context, req ports.TransferRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// RecordingGateway records successful transfers and fails the ones FailWhen selects.
type RecordingGateway struct {
	mu        sync.Mutex
	FailWhen  func(req ports.TransferRequest) error
	Transfers []ports.TransferRequest
	// OnTransfer runs inside the transfer call, before the outcome is decided.
	OnTransfer func(ctx context.Context, req ports.TransferRequest)
}

func (g *RecordingGateway) Transfer(ctx context.Context, req ports.TransferRequest) error {
	if g.OnTransfer != nil {
		g.OnTransfer(ctx, req)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailWhen != nil {
		if err := g.FailWhen(req); err != nil {
			return err
		}
	}
	g.Transfers = append(g.Transfers, req)
	return nil
}

// Sent returns a copy of the recorded transfers.
func (g *RecordingGateway) Sent() []ports.TransferRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ports.TransferRequest(nil), g.Transfers...)
}
