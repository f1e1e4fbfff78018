package dialog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/pairing-hub/pairing-hub/internal/domain/transport"
	"github.com/pairing-hub/pairing-hub/internal/domain/transport/mocks"
)

func TestNotify_DefaultsKindAndSwallowsFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	runner, _, _ := newRunner(tr)

	gomock.InOrder(
		tr.EXPECT().Send(gomock.Any(), "dm:u1", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, msg transport.Message) (string, error) {
				assert.Equal(t, transport.KindNotice, msg.Kind)
				assert.Equal(t, "hello", msg.Body)
				return "", transport.ErrUndeliverable
			}),
		tr.EXPECT().Send(gomock.Any(), "surface-1", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, msg transport.Message) (string, error) {
				assert.Equal(t, transport.KindPrompt, msg.Kind)
				return "", transport.ErrSurfaceNotFound
			}),
	)

	runner.Notify(context.Background(), "dm:u1", transport.Message{Body: "hello"})
	runner.Notify(context.Background(), "surface-1", transport.Message{Kind: transport.KindPrompt, Body: "again"})
}
