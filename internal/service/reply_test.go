package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxlens/backend/internal/domain"
	"inboxlens/backend/internal/enrich"
	"inboxlens/backend/internal/security"
)

// MockDrafter 模拟回复起草
type MockDrafter struct {
	mock.Mock
}

func (m *MockDrafter) DraftReply(ctx context.Context, req enrich.DraftRequest) (*domain.ReplyDraft, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReplyDraft), args.Error(1)
}

// MockSender 模拟外发邮件
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, creds domain.Credentials, mail domain.OutgoingMail) error {
	args := m.Called(ctx, creds, mail)
	return args.Error(0)
}

func TestReplyService_Draft(t *testing.T) {
	t.Run("起草成功", func(t *testing.T) {
		drafter := new(MockDrafter)
		drafter.On("DraftReply", mock.Anything, enrich.DraftRequest{Subject: "Exam", Body: "b", Intent: "ask for extension"}).
			Return(&domain.ReplyDraft{Subject: "Re: Exam", Body: "Could I have an extension?"}, nil)

		svc := NewReplyService(drafter, new(MockSender), zap.NewNop())
		draft, err := svc.Draft(context.Background(), domain.DraftReplyRequest{Subject: "Exam", Body: "b", Intent: "ask for extension"})

		require.NoError(t, err)
		assert.Equal(t, "Re: Exam", draft.Subject)
		drafter.AssertExpectations(t)
	})

	t.Run("校验失败不调用服务", func(t *testing.T) {
		drafter := new(MockDrafter)
		svc := NewReplyService(drafter, new(MockSender), zap.NewNop())

		_, err := svc.Draft(context.Background(), domain.DraftReplyRequest{Subject: "Exam"})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		assert.ErrorIs(t, err, domain.ErrIntentMissing)
		drafter.AssertNotCalled(t, "DraftReply", mock.Anything, mock.Anything)
	})

	t.Run("服务错误原样返回", func(t *testing.T) {
		drafter := new(MockDrafter)
		drafter.On("DraftReply", mock.Anything, mock.Anything).Return(nil, domain.ErrProviderAuth)

		svc := NewReplyService(drafter, new(MockSender), zap.NewNop())
		_, err := svc.Draft(context.Background(), domain.DraftReplyRequest{Intent: "decline"})
		assert.ErrorIs(t, err, domain.ErrProviderAuth)
	})
}

func TestReplyService_Send(t *testing.T) {
	creds := domain.Credentials{Account: "me@uni.example.edu", Secret: "pw"}

	t.Run("发送成功", func(t *testing.T) {
		sender := new(MockSender)
		sender.On("Send", mock.Anything, creds, domain.OutgoingMail{To: "prof@uni.example.edu", Subject: "Re: Exam", HTMLBody: "<p>ok</p>"}).Return(nil)

		svc := NewReplyService(new(MockDrafter), sender, zap.NewNop())
		err := svc.Send(context.Background(), creds, domain.SendReplyRequest{To: "prof@uni.example.edu", Subject: "Re: Exam", HTMLBody: "<p>ok</p>"})

		require.NoError(t, err)
		sender.AssertExpectations(t)
	})

	t.Run("收件人非法", func(t *testing.T) {
		sender := new(MockSender)
		svc := NewReplyService(new(MockDrafter), sender, zap.NewNop())

		err := svc.Send(context.Background(), creds, domain.SendReplyRequest{To: "nobody", Subject: "s"})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("含脚本的正文被拒绝", func(t *testing.T) {
		sender := new(MockSender)
		svc := NewReplyService(new(MockDrafter), sender, zap.NewNop()).WithContentChecker(security.NewContentFilter())

		err := svc.Send(context.Background(), creds, domain.SendReplyRequest{
			To:       "prof@uni.example.edu",
			Subject:  "Re: Exam",
			HTMLBody: `<p>ok</p><script>alert(1)</script>`,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		assert.ErrorIs(t, err, security.ErrUnsafeContent)
		sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("发送失败原样返回", func(t *testing.T) {
		sendErr := domain.NewSessionError(domain.SessionRecipientRejected, nil)
		sender := new(MockSender)
		sender.On("Send", mock.Anything, creds, mock.Anything).Return(sendErr)

		svc := NewReplyService(new(MockDrafter), sender, zap.NewNop())
		err := svc.Send(context.Background(), creds, domain.SendReplyRequest{To: "x@example.com", Subject: "s"})
		assert.True(t, domain.IsSessionKind(err, domain.SessionRecipientRejected))
	})
}
