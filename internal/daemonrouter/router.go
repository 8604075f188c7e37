// Package daemonrouter routes inbound chat-transport messages (one per JID)
// to either a registered slash command or a Turn Client query, enforces
// sender authorization and a fixed dangerous-command blocklist, and manages
// the audio/image transcription job lifecycle.
package daemonrouter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/evrenesat/askygo/internal/commands"
	"github.com/evrenesat/askygo/internal/config"
	"github.com/evrenesat/askygo/internal/jobs"
	"github.com/evrenesat/askygo/internal/sessions"
	"github.com/evrenesat/askygo/internal/turnclient"
	"github.com/evrenesat/askygo/pkg/models"
)

// MessageType distinguishes a 1:1 chat from a multi-user room message, the
// two JID semantics spec.md §4.I's handle_text_message branches on.
type MessageType string

const (
	MessageChat      MessageType = "chat"
	MessageGroupChat MessageType = "groupchat"
)

// Planner optionally classifies free text as a command or a query before
// the router's own heuristic runs. Checked only after an explicit command
// prefix match has already been ruled out (spec.md §9 resolution:
// prefix-before-planner).
type Planner interface {
	Classify(ctx context.Context, text string) (isCommand bool, err error)
}

// Transcriber runs a single audio or image transcription job to
// completion, returning the transcript text.
type Transcriber func(ctx context.Context, mediaURL string) (text string, durationSeconds float64, err error)

// Response is what a router handler returns to the transport adapter.
type Response struct {
	Text       string
	Suppress   bool
	HaltReason models.HaltReason
}

// pendingKey identifies a follow-up yes/no confirmation slot.
type pendingKey struct {
	conversationID string
	senderJID      string
}

// Router implements the Daemon Router.
type Router struct {
	cfg     config.DaemonConfig
	store   *sessions.Store
	turns   *turnclient.Client
	parser  *commands.Parser
	reg     *commands.Registry
	jobs    jobs.Store
	audio   Transcriber
	image   Transcriber
	planner Planner
	presets map[string]string
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[pendingKey]string // conversationID+senderJID -> transcript id
	autoRun bool
}

// Options configures a new Router.
type Options struct {
	Config      config.DaemonConfig
	Store       *sessions.Store
	Turns       *turnclient.Client
	Parser      *commands.Parser
	Registry    *commands.Registry
	Jobs        jobs.Store
	Audio       Transcriber
	Image       Transcriber
	Planner     Planner
	Presets     map[string]string
	AutoRunTranscripts bool
	Logger      *slog.Logger
}

// New builds a Router.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:     opts.Config,
		store:   opts.Store,
		turns:   opts.Turns,
		parser:  opts.Parser,
		reg:     opts.Registry,
		jobs:    opts.Jobs,
		audio:   opts.Audio,
		image:   opts.Image,
		planner: opts.Planner,
		presets: opts.Presets,
		logger:  logger.With("component", "daemonrouter"),
		pending: make(map[pendingKey]string),
		autoRun: opts.AutoRunTranscripts,
	}
}

// remoteCommandBlocklist is the fixed policy rejected before dispatch,
// regardless of config.DaemonConfig.BlockedCommands (spec.md §4.I): opening
// a browser, emitting mail, bulk deletion, plugin management, and daemon
// control are never remotely reachable.
var remoteCommandBlocklist = map[string]bool{
	"open_browser":    true,
	"browser":         true,
	"send_mail":       true,
	"mail":            true,
	"delete_all":      true,
	"purge":           true,
	"plugin_install":  true,
	"plugin_remove":   true,
	"plugins":         true,
	"daemon_restart":  true,
	"daemon_shutdown": true,
	"shutdown":        true,
}

func (r *Router) isBlocked(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if remoteCommandBlocklist[name] {
		return true
	}
	for _, blocked := range r.cfg.BlockedCommands {
		if strings.EqualFold(strings.TrimSpace(blocked), name) {
			return true
		}
	}
	return false
}

// IsAuthorized matches a full JID, then falls back to its bare form, against
// the configured per-channel allow-list (falling back to "default"),
// grounded on nexus's allowlistMatches/senderMatchesAllowlist.
func (r *Router) IsAuthorized(channel, jid string) bool {
	if jid == "" {
		return false
	}
	allow := r.cfg.AllowFrom[strings.ToLower(channel)]
	if len(allow) == 0 {
		allow = r.cfg.AllowFrom["default"]
	}
	if len(allow) == 0 {
		return false
	}
	full := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(jid), "@"), "#"))
	normalized := normalizeJID(jid)
	if normalized == "" {
		return false
	}
	for _, entry := range allow {
		token := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(entry), "@"), "#"))
		if token == "" {
			continue
		}
		if token == "*" || token == full || token == normalized {
			return true
		}
	}
	return false
}

// normalizeJID trims surrounding space, strips a leading "@"/"#", drops a
// "/resource" suffix, then lowercases, so "Alice@Example.com/phone" and
// "alice@example.com" both normalize to the bare form "alice@example.com".
func normalizeJID(value string) string {
	token := strings.TrimSpace(value)
	if token == "" {
		return ""
	}
	token = strings.TrimPrefix(token, "@")
	token = strings.TrimPrefix(token, "#")
	if idx := strings.Index(token, "/"); idx >= 0 {
		token = token[:idx]
	}
	return strings.ToLower(token)
}

// TextMessageRequest is one inbound text message to route.
type TextMessageRequest struct {
	Type       MessageType
	JID        string
	Body       string
	RoomJID    string
	SenderJID  string
	Channel    string
}

// HandleTextMessage implements spec.md §4.I handle_text_message, applying
// the routing precedence confirmed by SPEC_FULL.md §5: inline TOML upload,
// /session prefix, pending yes/no confirmation, backslash preset expansion,
// explicit command prefix, planner classification, heuristic fallback,
// then query.
func (r *Router) HandleTextMessage(ctx context.Context, req TextMessageRequest) (*Response, error) {
	var sessionID string
	if req.Type == MessageGroupChat {
		if req.RoomJID == "" {
			return &Response{HaltReason: models.HaltInvalidInput, Text: "groupchat message missing room binding"}, nil
		}
		bound, err := r.store.GetRoomBinding(ctx, req.RoomJID)
		if err != nil {
			return nil, fmt.Errorf("daemonrouter: room binding: %w", err)
		}
		if bound == "" {
			return &Response{HaltReason: models.HaltInvalidInput, Text: "room is not bound to a session"}, nil
		}
		sessionID = bound
	} else {
		if !r.IsAuthorized(req.Channel, req.JID) {
			return &Response{HaltReason: models.HaltPolicyBlocked, Text: "unauthorized sender"}, nil
		}
	}

	body := strings.TrimSpace(req.Body)

	if looksLikeTOMLUpload(body) {
		if err := r.store.SetOverrideFile(ctx, sessionID, "session.toml", body); err != nil {
			return nil, fmt.Errorf("daemonrouter: set override file: %w", err)
		}
		return &Response{Text: "session profile updated"}, nil
	}

	if rest, ok := strings.CutPrefix(body, "/session"); ok {
		return r.handleSessionCommand(ctx, sessionID, strings.TrimSpace(rest))
	}

	if resp, handled := r.handlePendingConfirmation(ctx, req, body); handled {
		return resp, nil
	}

	if expanded, ok := r.expandPreset(body); ok {
		body = expanded
	}

	isCommand, err := r.classify(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("daemonrouter: classify: %w", err)
	}
	if isCommand {
		return r.executeCommand(ctx, sessionID, req, body)
	}

	return r.runQuery(ctx, sessionID, body)
}

// looksLikeTOMLUpload recognizes an inline profile override: a message
// that opens with a TOML table header and actually parses as TOML, rather
// than merely resembling one.
func looksLikeTOMLUpload(body string) bool {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "[") {
		return false
	}
	var probe map[string]any
	return toml.Unmarshal([]byte(trimmed), &probe) == nil
}

func (r *Router) expandPreset(body string) (string, bool) {
	if !strings.HasPrefix(body, `\`) || len(r.presets) == 0 {
		return body, false
	}
	name := strings.TrimPrefix(body, `\`)
	name, rest, _ := strings.Cut(name, " ")
	expansion, ok := r.presets[name]
	if !ok {
		return body, false
	}
	if rest != "" {
		return expansion + " " + rest, true
	}
	return expansion, true
}

// classify decides command vs. query. An explicit configured command prefix
// is checked first, before any planner is consulted (spec.md §9
// resolution). Absent both a prefix match and a planner, a heuristic looks
// at whether the first token resembles a flag or a known command name.
func (r *Router) classify(ctx context.Context, body string) (bool, error) {
	if r.cfg.CommandPrefix != "" && strings.HasPrefix(body, r.cfg.CommandPrefix) {
		return true, nil
	}
	if r.planner != nil {
		return r.planner.Classify(ctx, body)
	}
	return r.looksLikeCommand(body), nil
}

func (r *Router) looksLikeCommand(body string) bool {
	if fields := strings.Fields(body); len(fields) > 0 && strings.HasPrefix(fields[0], "-") {
		return true
	}
	if r.parser == nil {
		return false
	}
	detection := r.parser.Parse(body)
	return detection != nil && detection.IsControlCommand
}

func (r *Router) executeCommand(ctx context.Context, sessionID string, req TextMessageRequest, body string) (*Response, error) {
	if r.parser == nil || r.reg == nil {
		return &Response{Text: "commands are not enabled"}, nil
	}
	detection := r.parser.Parse(body)
	if detection == nil || detection.Primary == nil {
		return r.runQuery(ctx, sessionID, body)
	}
	if r.isBlocked(detection.Primary.Name) {
		return &Response{HaltReason: models.HaltPolicyBlocked, Text: "command is not permitted"}, nil
	}

	inv := &commands.Invocation{
		Name:       detection.Primary.Name,
		Args:       detection.Primary.Args,
		RawText:    body,
		SessionKey: sessionID,
		UserID:     req.SenderJID,
		Context:    map[string]any{"jid": req.JID, "channel": req.Channel},
	}
	result, err := r.reg.Execute(ctx, inv)
	if err != nil {
		return &Response{Text: "command failed: " + err.Error()}, nil
	}
	if result.Error != "" {
		return &Response{Text: result.Error}, nil
	}
	return &Response{Text: result.Text, Suppress: result.Suppress}, nil
}

func (r *Router) handleSessionCommand(ctx context.Context, currentSessionID, arg string) (*Response, error) {
	if arg == "" {
		return &Response{Text: "usage: /session <name>"}, nil
	}
	sess, err := r.store.GetByName(ctx, arg)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess, err = r.store.Create(ctx, arg, 0)
		if err != nil {
			return nil, err
		}
	}
	return &Response{Text: fmt.Sprintf("switched to session %q", sess.Name)}, nil
}

func (r *Router) runQuery(ctx context.Context, sessionID, body string) (*Response, error) {
	result, err := r.turns.Run(ctx, turnclient.Request{SessionName: "", ResumeTerm: sessionID, Query: body})
	if err != nil {
		return nil, fmt.Errorf("daemonrouter: run query: %w", err)
	}
	if result.Halted {
		return &Response{HaltReason: result.HaltReason, Text: strings.Join(result.Notices, "; ")}, nil
	}
	return &Response{Text: result.FinalAnswer}, nil
}

// HandleAudioMessage creates a pending transcript record and enqueues a
// transcription job, returning an acknowledgement containing "#at<id>".
func (r *Router) HandleAudioMessage(ctx context.Context, sessionID, jid, mediaURL string) (*Response, error) {
	return r.handleMediaMessage(ctx, sessionID, jid, mediaURL, models.TranscriptKindAudio, r.audio)
}

// HandleImageMessage is HandleAudioMessage's image-transcript counterpart,
// acknowledging with "#it<id>".
func (r *Router) HandleImageMessage(ctx context.Context, sessionID, jid, mediaURL string) (*Response, error) {
	return r.handleMediaMessage(ctx, sessionID, jid, mediaURL, models.TranscriptKindImage, r.image)
}

func (r *Router) handleMediaMessage(ctx context.Context, sessionID, jid, mediaURL string, kind models.TranscriptKind, transcribe Transcriber) (*Response, error) {
	rec := &models.TranscriptRecord{
		SessionID: sessionID,
		JID:       jid,
		Kind:      kind,
		Status:    models.TranscriptPending,
		MediaURL:  mediaURL,
	}
	if err := r.store.CreateTranscript(ctx, rec); err != nil {
		return nil, fmt.Errorf("daemonrouter: create transcript: %w", err)
	}

	job := &jobs.Job{ID: rec.ID, ToolName: "transcribe_" + string(kind)}
	if r.jobs != nil {
		if err := r.jobs.Create(ctx, job); err != nil {
			r.logger.Error("daemonrouter: job create", "error", err)
		}
	}

	go r.runTranscription(context.Background(), rec, transcribe)

	return &Response{Text: "transcribing, reference " + rec.Token()}, nil
}

func (r *Router) runTranscription(ctx context.Context, rec *models.TranscriptRecord, transcribe Transcriber) {
	if transcribe == nil {
		rec.Status = models.TranscriptFailed
		rec.Error = "no transcriber configured"
		_ = r.store.UpdateTranscript(ctx, rec)
		return
	}
	text, duration, err := transcribe(ctx, rec.MediaURL)
	if err != nil {
		rec.Status = models.TranscriptFailed
		rec.Error = err.Error()
		_ = r.store.UpdateTranscript(ctx, rec)
		return
	}
	rec.Status = models.TranscriptCompleted
	rec.Text = text
	rec.DurationSeconds = duration
	if err := r.store.UpdateTranscript(ctx, rec); err != nil {
		r.logger.Error("daemonrouter: update transcript", "error", err)
		return
	}
	r.onTranscriptionResult(ctx, rec)
}

// onTranscriptionResult implements spec.md §4.I handle_transcription_result:
// when auto-run is enabled and no planner is active, immediately run the
// transcript text as a query; otherwise stash a pending confirmation.
func (r *Router) onTranscriptionResult(ctx context.Context, rec *models.TranscriptRecord) {
	if r.autoRun && r.planner == nil {
		rec.Used = true
		_ = r.store.UpdateTranscript(ctx, rec)
		if _, err := r.runQuery(ctx, rec.SessionID, rec.Text); err != nil {
			r.logger.Error("daemonrouter: auto-run transcript", "error", err)
		}
		return
	}
	r.mu.Lock()
	r.pending[pendingKey{conversationID: rec.SessionID, senderJID: rec.JID}] = rec.ID
	r.mu.Unlock()
}

// handlePendingConfirmation consumes a "yes"/"no" follow-up from the sender
// matching a stashed transcription result.
func (r *Router) handlePendingConfirmation(ctx context.Context, req TextMessageRequest, body string) (*Response, bool) {
	answer := strings.ToLower(strings.TrimSpace(body))
	if answer != "yes" && answer != "no" {
		return nil, false
	}

	key := pendingKey{conversationID: req.JID, senderJID: req.SenderJID}
	r.mu.Lock()
	transcriptID, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	if answer == "no" {
		return &Response{Text: "discarded"}, true
	}

	rec, err := r.store.GetTranscript(ctx, transcriptID)
	if err != nil || rec == nil {
		return &Response{Text: "transcript no longer available"}, true
	}
	rec.Used = true
	_ = r.store.UpdateTranscript(ctx, rec)
	resp, err := r.runQuery(ctx, rec.SessionID, rec.Text)
	if err != nil {
		return &Response{Text: "failed to run transcript: " + err.Error()}, true
	}
	return resp, true
}

// PruneTranscripts keeps the keep most recent transcripts for a session,
// deleting older rows per spec.md §4.I's prune rule.
func (r *Router) PruneTranscripts(ctx context.Context, sessionID string, keep int) (int, error) {
	return r.store.PruneTranscripts(ctx, sessionID, keep)
}

// sessionScopedIDFromToken parses a "#at<id>"/"#it<id>" reference back into
// its numeric session-scoped id, for commands like "transcript use #at3".
func sessionScopedIDFromToken(token string) (int, error) {
	token = strings.TrimPrefix(token, "#")
	token = strings.TrimPrefix(strings.TrimPrefix(token, "at"), "it")
	return strconv.Atoi(token)
}
