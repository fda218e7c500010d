package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "enhancer-bot-backend/internal/common/errors"
	"enhancer-bot-backend/internal/features/admin"
	"enhancer-bot-backend/internal/features/enhancer"
	"enhancer-bot-backend/internal/features/user/repository"
	"enhancer-bot-backend/internal/features/user/repository/memory"
	"enhancer-bot-backend/internal/features/verification"
	"enhancer-bot-backend/internal/platform/telegram"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	chatID   int64
	text     string
	keyboard *telegram.InlineKeyboardMarkup
}

type fakeAPI struct {
	status      telegram.MemberStatus
	statusErr   error
	messages    []sentMessage
	photos      []sentMessage
	documents   []sentMessage
	callbacksOK []string
}

func (f *fakeAPI) GetUpdates(ctx context.Context, offset int64, timeout int) ([]telegram.Update, error) {
	return nil, nil
}

func (f *fakeAPI) GetChatMemberStatus(ctx context.Context, chatID string, userID int64) (telegram.MemberStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeAPI) SendMessage(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) error {
	f.messages = append(f.messages, sentMessage{chatID, text, keyboard})
	return nil
}

func (f *fakeAPI) SendPhoto(ctx context.Context, chatID int64, data []byte, caption string) error {
	f.photos = append(f.photos, sentMessage{chatID: chatID, text: string(data)})
	return nil
}

func (f *fakeAPI) SendDocument(ctx context.Context, chatID int64, data []byte, filename, caption string) error {
	f.documents = append(f.documents, sentMessage{chatID: chatID, text: filename})
	return nil
}

func (f *fakeAPI) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	f.callbacksOK = append(f.callbacksOK, callbackID)
	return nil
}

func (f *fakeAPI) SendText(ctx context.Context, chatID int64, text string) error {
	return f.SendMessage(ctx, chatID, text, nil)
}

func (f *fakeAPI) lastMessage(t *testing.T) sentMessage {
	t.Helper()
	require.NotEmpty(t, f.messages)
	return f.messages[len(f.messages)-1]
}

type fakePipeline struct {
	result *enhancer.Result
	err    error
	calls  int
}

func (f *fakePipeline) Process(ctx context.Context, fileID string) (*enhancer.Result, error) {
	f.calls++
	return f.result, f.err
}

type fixture struct {
	api      *fakeAPI
	repo     *memory.Repository
	pipeline *fakePipeline
	d        *Dispatcher
}

func newFixture(t *testing.T, status telegram.MemberStatus) *fixture {
	t.Helper()
	api := &fakeAPI{status: status}
	repo := memory.NewRepository()
	verifier := verification.NewService(repo, 12*time.Hour)
	pipeline := &fakePipeline{result: &enhancer.Result{Data: []byte("bytes")}}
	adminSvc := admin.NewService(repo, api, []int64{99}, 2)

	d := NewDispatcher(api, repo, verifier, pipeline, adminSvc, "@channel", "", 30*time.Second)
	return &fixture{api: api, repo: repo, pipeline: pipeline, d: d}
}

func photoMessage(userID int64) *telegram.Message {
	return &telegram.Message{
		From: &telegram.User{ID: userID, Username: "johndoe", FirstName: "John"},
		Chat: telegram.Chat{ID: userID},
		Photo: []telegram.PhotoSize{
			{FileID: "small", Width: 90},
			{FileID: "large", Width: 1280},
		},
	}
}

func textMessage(userID int64, text string) *telegram.Message {
	return &telegram.Message{
		From: &telegram.User{ID: userID, Username: "johndoe", FirstName: "John"},
		Chat: telegram.Chat{ID: userID},
		Text: text,
	}
}

func verifyUser(t *testing.T, fx *fixture, userID int64) {
	t.Helper()
	verifier := verification.NewService(fx.repo, 12*time.Hour)
	_, err := verifier.MarkVerified(context.Background(), userID, "johndoe", "John", time.Now())
	require.NoError(t, err)
}

func TestStartCreatesUnverifiedRecord(t *testing.T) {
	fx := newFixture(t, telegram.StatusMember)

	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: textMessage(42, "/start")})

	rec, err := fx.repo.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, rec.Verified)
	assert.Equal(t, "johndoe", rec.Username)

	assert.Contains(t, fx.api.lastMessage(t).text, "send me a photo")
}

func TestSubmissionBlockedWithoutSubscription(t *testing.T) {
	fx := newFixture(t, telegram.StatusLeft)
	verifyUser(t, fx, 42) // verified but unsubscribed is still blocked

	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: photoMessage(42)})

	assert.Zero(t, fx.pipeline.calls)
	msg := fx.api.lastMessage(t)
	assert.Contains(t, msg.text, "subscribe")
	require.NotNil(t, msg.keyboard)
	assert.Equal(t, "https://t.me/channel", msg.keyboard.InlineKeyboard[0][0].URL)
}

func TestSubmissionBlockedWithoutVerification(t *testing.T) {
	fx := newFixture(t, telegram.StatusMember)

	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: photoMessage(42)})

	assert.Zero(t, fx.pipeline.calls)
	msg := fx.api.lastMessage(t)
	assert.Contains(t, msg.text, "verify")
	require.NotNil(t, msg.keyboard)
	assert.Equal(t, callbackVerify, msg.keyboard.InlineKeyboard[0][0].CallbackData)
}

func TestSubmissionProceedsWhenVerifiedMember(t *testing.T) {
	fx := newFixture(t, telegram.StatusMember)
	verifyUser(t, fx, 42)

	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: photoMessage(42)})

	assert.Equal(t, 1, fx.pipeline.calls)
	require.Len(t, fx.api.photos, 1)
	assert.Equal(t, "bytes", fx.api.photos[0].text)
}

func TestImageDocumentAnsweredAsDocument(t *testing.T) {
	fx := newFixture(t, telegram.StatusMember)
	verifyUser(t, fx, 42)

	msg := textMessage(42, "")
	msg.Document = &telegram.Document{FileID: "doc-1", FileName: "scan.png", MimeType: "image/png"}
	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: msg})

	assert.Equal(t, 1, fx.pipeline.calls)
	require.Len(t, fx.api.documents, 1)
	assert.Equal(t, "enhanced_scan.png", fx.api.documents[0].text)
	assert.Empty(t, fx.api.photos)
}

func TestNonImageDocumentIgnored(t *testing.T) {
	fx := newFixture(t, telegram.StatusMember)
	verifyUser(t, fx, 42)

	msg := textMessage(42, "")
	msg.Document = &telegram.Document{FileID: "doc-1", FileName: "notes.pdf", MimeType: "application/pdf"}
	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: msg})

	assert.Zero(t, fx.pipeline.calls)
}

func TestPipelineErrorsMapToDistinctMessages(t *testing.T) {
	cases := []struct {
		code apperrors.ErrorCode
		want string
	}{
		{apperrors.ErrCodeServiceUnreachable, "Failed to connect"},
		{apperrors.ErrCodeProcessingFailed, "something went wrong"},
		{apperrors.ErrCodeResultFetchFailed, "could not be downloaded"},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			fx := newFixture(t, telegram.StatusMember)
			verifyUser(t, fx, 42)
			fx.pipeline.err = apperrors.New(tc.code, "stage failed")
			fx.pipeline.result = nil

			fx.d.HandleUpdate(context.Background(), telegram.Update{Message: photoMessage(42)})

			assert.Contains(t, fx.api.lastMessage(t).text, tc.want)
			assert.Empty(t, fx.api.photos)
		})
	}
}

func TestMembershipQueryFailureDoesNotMisgate(t *testing.T) {
	fx := newFixture(t, telegram.StatusMember)
	fx.api.statusErr = errors.New("telegram down")
	verifyUser(t, fx, 42)

	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: photoMessage(42)})

	// No gate prompt and no pipeline run, just a transient-error reply.
	assert.Zero(t, fx.pipeline.calls)
	assert.Contains(t, fx.api.lastMessage(t).text, "try again")
}

func TestVerifyCallbackMarksVerified(t *testing.T) {
	fx := newFixture(t, telegram.StatusMember)

	cb := &telegram.CallbackQuery{
		ID:      "cb-1",
		From:    telegram.User{ID: 42, Username: "johndoe"},
		Data:    callbackVerify,
		Message: &telegram.Message{Chat: telegram.Chat{ID: 42}},
	}
	fx.d.HandleUpdate(context.Background(), telegram.Update{CallbackQuery: cb})

	rec, err := fx.repo.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, rec.Verified)
	require.NotNil(t, rec.VerifiedUntil)

	assert.Contains(t, fx.api.lastMessage(t).text, "verified until")
	assert.Equal(t, []string{"cb-1"}, fx.api.callbacksOK)
}

func TestStartVerifiedDeepLink(t *testing.T) {
	fx := newFixture(t, telegram.StatusMember)

	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: textMessage(42, "/start verified")})

	rec, err := fx.repo.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, rec.Verified)
}

func TestRecheckCallback(t *testing.T) {
	fx := newFixture(t, telegram.StatusLeft)

	cb := &telegram.CallbackQuery{
		ID:      "cb-2",
		From:    telegram.User{ID: 42},
		Data:    callbackRecheck,
		Message: &telegram.Message{Chat: telegram.Chat{ID: 42}},
	}
	fx.d.HandleUpdate(context.Background(), telegram.Update{CallbackQuery: cb})
	assert.Contains(t, fx.api.lastMessage(t).text, "still not subscribed")

	// After joining, the next gate is verification.
	fx.api.status = telegram.StatusMember
	fx.d.HandleUpdate(context.Background(), telegram.Update{CallbackQuery: cb})
	assert.Contains(t, strings.ToLower(fx.api.lastMessage(t).text), "verify")
}

func TestBroadcastCommand(t *testing.T) {
	fx := newFixture(t, telegram.StatusMember)

	// Seed two users.
	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: textMessage(1, "/start")})
	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: textMessage(2, "/start")})

	// Non-admin is rejected.
	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: textMessage(7, "/broadcast hi all")})
	assert.Contains(t, fx.api.lastMessage(t).text, "administrators only")

	// Admin broadcast reaches both users (admin id 99 from the fixture).
	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: textMessage(99, "/broadcast hi all")})
	assert.Contains(t, fx.api.lastMessage(t).text, "2 attempted")
}

func TestCountCommands(t *testing.T) {
	fx := newFixture(t, telegram.StatusMember)

	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: textMessage(1, "/start")})
	verifyUser(t, fx, 1)
	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: textMessage(2, "/start")})

	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: textMessage(99, "/total_users")})
	assert.Contains(t, fx.api.lastMessage(t).text, "Total users: 2")

	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: textMessage(99, "/total_verified")})
	assert.Contains(t, fx.api.lastMessage(t).text, "Currently verified users: 1")

	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: textMessage(7, "/total_users")})
	assert.Contains(t, fx.api.lastMessage(t).text, "administrators only")
}

func TestBroadcastUsage(t *testing.T) {
	fx := newFixture(t, telegram.StatusMember)

	fx.d.HandleUpdate(context.Background(), telegram.Update{Message: textMessage(99, "/broadcast")})
	assert.Contains(t, fx.api.lastMessage(t).text, "Usage")
}

var _ repository.Repository = (*memory.Repository)(nil)
