package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "enhancer-bot-backend/internal/common/errors"
	"enhancer-bot-backend/internal/features/access"
	"enhancer-bot-backend/internal/features/admin"
	"enhancer-bot-backend/internal/features/enhancer"
	"enhancer-bot-backend/internal/features/user/models"
	"enhancer-bot-backend/internal/features/user/repository"
	"enhancer-bot-backend/internal/features/verification"
	"enhancer-bot-backend/internal/platform/telegram"

	"github.com/rs/zerolog/log"
)

// API is the slice of the Telegram client the dispatcher drives.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]telegram.Update, error)
	GetChatMemberStatus(ctx context.Context, chatID string, userID int64) (telegram.MemberStatus, error)
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) error
	SendPhoto(ctx context.Context, chatID int64, data []byte, caption string) error
	SendDocument(ctx context.Context, chatID int64, data []byte, filename, caption string) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// Enhancer runs one enhancement job.
type Enhancer interface {
	Process(ctx context.Context, fileID string) (*enhancer.Result, error)
}

const (
	callbackVerify  = "verify"
	callbackRecheck = "recheck"
)

// Dispatcher owns the long-poll loop and routes every inbound update
// through the access gates to the pipeline or the admin operations.
type Dispatcher struct {
	tg       API
	repo     repository.Repository
	verifier *verification.Service
	pipeline Enhancer
	admin    *admin.Service

	requiredChannel string
	webAppURL       string
	pollTimeout     time.Duration

	now func() time.Time
}

func NewDispatcher(
	tg API,
	repo repository.Repository,
	verifier *verification.Service,
	pipeline Enhancer,
	adminSvc *admin.Service,
	requiredChannel string,
	webAppURL string,
	pollTimeout time.Duration,
) *Dispatcher {
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	return &Dispatcher{
		tg:              tg,
		repo:            repo,
		verifier:        verifier,
		pipeline:        pipeline,
		admin:           adminSvc,
		requiredChannel: requiredChannel,
		webAppURL:       webAppURL,
		pollTimeout:     pollTimeout,
		now:             time.Now,
	}
}

// Run polls for updates until the context is cancelled. Handler failures
// are logged and answered per event; the loop itself never exits on them.
func (d *Dispatcher) Run(ctx context.Context) error {
	var offset int64

	log.Info().Str("channel", d.requiredChannel).Msg("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := d.tg.GetUpdates(ctx, offset, int(d.pollTimeout.Seconds()))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("getUpdates failed")
			time.Sleep(3 * time.Second)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			d.HandleUpdate(ctx, upd)
		}
	}
}

// HandleUpdate routes one update. Every failure is terminal for this
// update only.
func (d *Dispatcher) HandleUpdate(ctx context.Context, upd telegram.Update) {
	switch {
	case upd.CallbackQuery != nil:
		d.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.From != nil:
		d.handleMessage(ctx, upd.Message)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *telegram.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	switch {
	case strings.HasPrefix(msg.Text, "/start"):
		d.handleStart(ctx, msg)
	case strings.HasPrefix(msg.Text, "/broadcast"):
		d.handleBroadcast(ctx, msg)
	case msg.Text == "/total_users":
		d.handleCount(ctx, userID, chatID, admin.CountAll)
	case msg.Text == "/total_verified":
		d.handleCount(ctx, userID, chatID, admin.CountVerified)
	case len(msg.Photo) > 0 || isImageDocument(msg.Document):
		d.handleSubmission(ctx, msg)
	case msg.Text != "":
		d.reply(ctx, chatID, "Send me a photo and I will enhance it for you.")
	}
}

// handleStart upserts the record (default unverified) and greets, or runs
// the verification callback when the deep-link payload asks for it.
func (d *Dispatcher) handleStart(ctx context.Context, msg *telegram.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	payload := strings.TrimSpace(strings.TrimPrefix(msg.Text, "/start"))
	if payload == "verified" {
		d.completeVerification(ctx, msg.From, chatID)
		return
	}

	_, err := d.repo.Upsert(ctx, userID, func(r *models.UserRecord) {
		r.Username = msg.From.Username
		r.FirstName = msg.From.FirstName
	})
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("start upsert failed")
		d.reply(ctx, chatID, "Something went wrong, please try again.")
		return
	}

	log.Info().Int64("user_id", userID).Msg("user started")
	d.reply(ctx, chatID, "Hello! Please send me a photo, and I will enhance it for you.")
}

// handleSubmission gates the event and, when clear, runs the pipeline and
// replies with the enhanced asset.
func (d *Dispatcher) handleSubmission(ctx context.Context, msg *telegram.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	decision, err := d.gate(ctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("gate evaluation failed")
		d.reply(ctx, chatID, "Could not check your access right now, please try again.")
		return
	}

	log.Info().
		Int64("user_id", userID).
		Str("decision", decision.String()).
		Msg("submission gated")

	switch decision {
	case access.RequireSubscription:
		d.sendSubscriptionPrompt(ctx, chatID)
		return
	case access.RequireVerification:
		d.sendVerificationPrompt(ctx, chatID)
		return
	}

	fileID, asDocument, filename := submittedFile(msg)

	d.reply(ctx, chatID, "Enhancing your photo, please wait...")

	result, err := d.pipeline.Process(ctx, fileID)
	if err != nil {
		d.reply(ctx, chatID, pipelineErrorMessage(err))
		return
	}

	if asDocument {
		err = d.tg.SendDocument(ctx, chatID, result.Data, enhancedFilename(filename), "Here is your enhanced image!")
	} else {
		err = d.tg.SendPhoto(ctx, chatID, result.Data, "Here is your enhanced image!")
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to deliver result")
		d.reply(ctx, chatID, "The image was enhanced but could not be delivered, please try again.")
	}
}

// gate fetches the membership fact and the record, then evaluates the
// access policy.
func (d *Dispatcher) gate(ctx context.Context, userID int64) (access.Decision, error) {
	status, err := d.tg.GetChatMemberStatus(ctx, d.requiredChannel, userID)
	if err != nil {
		return 0, apperrors.NewTelegramAPIError("getChatMember", err)
	}

	record, err := d.repo.GetByID(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return 0, apperrors.NewDatabaseError("get user", err)
	}

	return access.Evaluate(status, record, d.now()), nil
}

func (d *Dispatcher) handleBroadcast(ctx context.Context, msg *telegram.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(strings.TrimPrefix(msg.Text, "/broadcast"))
	if text == "" {
		d.reply(ctx, chatID, "Usage: /broadcast <message>")
		return
	}

	report, err := d.admin.Broadcast(ctx, msg.From.ID, text)
	if err != nil {
		d.reply(ctx, chatID, adminErrorMessage(err))
		return
	}

	d.reply(ctx, chatID, fmt.Sprintf(
		"Broadcast finished: %d attempted, %d delivered, %d failed.",
		report.Attempted, report.Succeeded, report.Failed,
	))
}

func (d *Dispatcher) handleCount(ctx context.Context, userID, chatID int64, filter admin.CountFilter) {
	count, err := d.admin.CountUsers(ctx, userID, filter)
	if err != nil {
		d.reply(ctx, chatID, adminErrorMessage(err))
		return
	}

	label := "Total users"
	if filter == admin.CountVerified {
		label = "Currently verified users"
	}
	d.reply(ctx, chatID, fmt.Sprintf("%s: %d", label, count))
}

func (d *Dispatcher) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if cb.Message == nil {
		_ = d.tg.AnswerCallbackQuery(ctx, cb.ID, "")
		return
	}
	chatID := cb.Message.Chat.ID

	switch cb.Data {
	case callbackVerify:
		_ = d.tg.AnswerCallbackQuery(ctx, cb.ID, "")
		d.completeVerification(ctx, &cb.From, chatID)
	case callbackRecheck:
		_ = d.tg.AnswerCallbackQuery(ctx, cb.ID, "")
		d.recheckAfterJoin(ctx, &cb.From, chatID)
	default:
		_ = d.tg.AnswerCallbackQuery(ctx, cb.ID, "")
	}
}

// completeVerification marks the user verified and reports the window.
func (d *Dispatcher) completeVerification(ctx context.Context, from *telegram.User, chatID int64) {
	rec, err := d.verifier.MarkVerified(ctx, from.ID, from.Username, from.FirstName, d.now())
	if err != nil {
		log.Error().Err(err).Int64("user_id", from.ID).Msg("verification failed")
		d.reply(ctx, chatID, "Verification failed, please try again.")
		return
	}

	d.reply(ctx, chatID, fmt.Sprintf(
		"You are verified until %s. Send me a photo to enhance!",
		rec.VerifiedUntil.UTC().Format("15:04 MST, 02 Jan"),
	))
}

// recheckAfterJoin re-evaluates the gates after the user claims to have
// joined the channel.
func (d *Dispatcher) recheckAfterJoin(ctx context.Context, from *telegram.User, chatID int64) {
	decision, err := d.gate(ctx, from.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", from.ID).Msg("recheck failed")
		d.reply(ctx, chatID, "Could not check your access right now, please try again.")
		return
	}

	switch decision {
	case access.RequireSubscription:
		d.reply(ctx, chatID, "You are still not subscribed to the channel.")
	case access.RequireVerification:
		d.sendVerificationPrompt(ctx, chatID)
	default:
		d.reply(ctx, chatID, "All set! Send me a photo to enhance.")
	}
}

func (d *Dispatcher) sendSubscriptionPrompt(ctx context.Context, chatID int64) {
	keyboard := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "Join the channel", URL: channelURL(d.requiredChannel)}},
			{{Text: "I've joined", CallbackData: callbackRecheck}},
		},
	}
	if err := d.tg.SendMessage(ctx, chatID,
		"To use this bot you need to subscribe to our channel first.", keyboard); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send subscription prompt")
	}
}

func (d *Dispatcher) sendVerificationPrompt(ctx context.Context, chatID int64) {
	button := telegram.InlineKeyboardButton{Text: "Verify"}
	if d.webAppURL != "" {
		button.WebApp = &telegram.WebAppInfo{URL: d.webAppURL}
	} else {
		button.CallbackData = callbackVerify
	}

	keyboard := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{{button}},
	}
	text := fmt.Sprintf(
		"Please verify you are human. Verification is valid for %s.",
		d.verifier.Window(),
	)
	if err := d.tg.SendMessage(ctx, chatID, text, keyboard); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send verification prompt")
	}
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if err := d.tg.SendMessage(ctx, chatID, text, nil); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send reply")
	}
}

// submittedFile picks the asset out of the message: the highest-resolution
// photo size, or the document when the image was sent as a file. Document
// submissions are answered as documents.
func submittedFile(msg *telegram.Message) (fileID string, asDocument bool, filename string) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, false, ""
	}
	return msg.Document.FileID, true, msg.Document.FileName
}

func isImageDocument(doc *telegram.Document) bool {
	return doc != nil && strings.HasPrefix(doc.MimeType, "image/")
}

func enhancedFilename(original string) string {
	if original == "" {
		return "enhanced.png"
	}
	return "enhanced_" + original
}

func channelURL(channel string) string {
	return "https://t.me/" + strings.TrimPrefix(channel, "@")
}

// pipelineErrorMessage maps each pipeline failure to its own user-facing
// message.
func pipelineErrorMessage(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeServiceUnreachable:
		return "Failed to connect to the image enhancer API."
	case apperrors.ErrCodeProcessingFailed:
		return "Sorry, something went wrong with the enhancement."
	case apperrors.ErrCodeResultFetchFailed:
		return "The enhanced image could not be downloaded, please try again."
	default:
		return "Could not process your photo, please try again."
	}
}

func adminErrorMessage(err error) string {
	if apperrors.CodeOf(err) == apperrors.ErrCodeUnauthorized {
		return "This command is available to administrators only."
	}
	return "Command failed, please try again."
}
