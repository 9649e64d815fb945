package cancelmodify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradegate/internal/broker"
	"github.com/rustyeddy/tradegate/internal/types"
)

type fakeBroker struct {
	broker.Broker
	cancelErr error
	cancelled []string
}

func (f *fakeBroker) CancelOrder(ctx context.Context, brokerOrderID string) (types.OpenOrder, error) {
	if f.cancelErr != nil {
		return types.OpenOrder{}, f.cancelErr
	}
	f.cancelled = append(f.cancelled, brokerOrderID)
	return types.OpenOrder{BrokerOrderID: brokerOrderID, Status: types.BrokerCancelled}, nil
}

type noKS struct{ enabled bool }

func (n noKS) IsEnabled(ctx context.Context) (bool, string) { return n.enabled, "halted" }

func TestGrantCancelInvokesBroker(t *testing.T) {
	t.Parallel()
	fb := &fakeBroker{}
	svc := New(fb, nil, noKS{})

	ci, err := svc.RequestCancel(context.Background(), "corr-1", "MOCK-1", "changed my mind")
	require.NoError(t, err)

	order, err := svc.GrantCancel(context.Background(), ci.RequestID, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.BrokerCancelled, order.Status)
	assert.Equal(t, []string{"MOCK-1"}, fb.cancelled)
}

func TestGrantCancelBlockedByKillSwitch(t *testing.T) {
	t.Parallel()
	fb := &fakeBroker{}
	svc := New(fb, nil, noKS{enabled: true})

	ci, err := svc.RequestCancel(context.Background(), "corr-2", "MOCK-1", "risk changed")
	require.NoError(t, err)

	_, err = svc.GrantCancel(context.Background(), ci.RequestID, "alice")
	assert.Error(t, err)
	assert.Empty(t, fb.cancelled, "broker must not be called while kill switch is active")
}

func TestDenyCancelRequiresReasonAndSkipsBroker(t *testing.T) {
	t.Parallel()
	fb := &fakeBroker{}
	svc := New(fb, nil, noKS{})

	ci, err := svc.RequestCancel(context.Background(), "corr-3", "MOCK-1", "reason")
	require.NoError(t, err)

	_, err = svc.DenyCancel(context.Background(), ci.RequestID, "", "bob")
	assert.Error(t, err)

	denied, err := svc.DenyCancel(context.Background(), ci.RequestID, "not authorized", "bob")
	require.NoError(t, err)
	assert.Equal(t, Denied, denied.State)
	assert.Empty(t, fb.cancelled)
}

func TestCancelRequestDoubleGrantFails(t *testing.T) {
	t.Parallel()
	fb := &fakeBroker{}
	svc := New(fb, nil, noKS{})

	ci, err := svc.RequestCancel(context.Background(), "corr-4", "MOCK-1", "reason")
	require.NoError(t, err)

	_, err = svc.GrantCancel(context.Background(), ci.RequestID, "alice")
	require.NoError(t, err)

	_, err = svc.GrantCancel(context.Background(), ci.RequestID, "alice")
	assert.Error(t, err, "a request already GRANTED cannot be granted again")
}

func TestGrantModifyCancelLegFailurePropagates(t *testing.T) {
	t.Parallel()
	fb := &fakeBroker{cancelErr: errors.New("broker unavailable")}
	svc := New(fb, nil, noKS{})

	mi, err := svc.RequestModify(context.Background(), "corr-5", "MOCK-1", ModifyParams{})
	require.NoError(t, err)

	_, err = svc.GrantModify(context.Background(), mi.RequestID, "alice")
	assert.Error(t, err)
}

func TestDenyModifyRequiresReason(t *testing.T) {
	t.Parallel()
	fb := &fakeBroker{}
	svc := New(fb, nil, noKS{})

	mi, err := svc.RequestModify(context.Background(), "corr-6", "MOCK-1", ModifyParams{})
	require.NoError(t, err)

	_, err = svc.DenyModify(context.Background(), mi.RequestID, "", "bob")
	assert.Error(t, err)
}
