// Package bridge implements the ChatBridge core: it serializes inbound and
// outbound chat events into one ordered pipeline, resolves remote CRM
// identity for each user, and enforces the remote bot feature flag.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/chatwoot"
	"github.com/BTreeMap/ChatBridge/internal/dispatch"
	"github.com/BTreeMap/ChatBridge/internal/keylock"
	"github.com/BTreeMap/ChatBridge/internal/messaging"
	"github.com/BTreeMap/ChatBridge/internal/models"
)

// Config is the bridge configuration surface. All fields are required; an
// entirely empty config disables the bridge (Initialize logs and no-ops).
type Config struct {
	BaseURL     string
	AccountID   int
	InboxID     int
	AccessToken string
	ListenAddr  string
}

// IsEmpty reports whether no configuration was provided at all.
func (c Config) IsEmpty() bool {
	return c == Config{}
}

// Opts holds optional bridge settings.
type Opts struct {
	Fetcher     AttachmentFetcher
	LockTimeout time.Duration
}

// Option defines an optional bridge setting.
type Option func(*Opts)

// WithFetcher injects an attachment fetcher (tests use fakes).
func WithFetcher(f AttachmentFetcher) Option {
	return func(o *Opts) { o.Fetcher = f }
}

// WithLockTimeout bounds the per-phone lock wait during conversation creation.
func WithLockTimeout(d time.Duration) Option {
	return func(o *Opts) { o.LockTimeout = d }
}

// Bridge owns the ordered queue, the per-phone lock map, and the blacklist
// synchronization for the process lifetime.
type Bridge struct {
	cfg       Config
	directory Directory
	fetcher   AttachmentFetcher
	runtime   messaging.Runtime
	blacklist messaging.Blacklist
	queue     *dispatch.Queue
	resolver  *Resolver
	gate      *FeatureGate

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	initialized bool
}

// New assembles a Bridge from its collaborators. Initialize must be called
// before events flow.
func New(cfg Config, directory Directory, runtime messaging.Runtime, blacklist messaging.Blacklist, queue *dispatch.Queue, opts ...Option) *Bridge {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Fetcher == nil {
		o.Fetcher = chatwoot.NewFetcher(nil)
	}

	locks := keylock.New()
	return &Bridge{
		cfg:       cfg,
		directory: directory,
		fetcher:   o.Fetcher,
		runtime:   runtime,
		blacklist: blacklist,
		queue:     queue,
		resolver:  NewResolver(directory, locks, o.LockTimeout),
		gate:      NewFeatureGate(directory, blacklist),
	}
}

// Initialize starts the queue and subscribes to whichever event sources the
// runtime exposes. With an empty configuration it logs a warning and does
// nothing, leaving the bridge disabled.
func (b *Bridge) Initialize(ctx context.Context) error {
	if b.cfg.IsEmpty() {
		slog.Warn("Bridge.Initialize: configuration is empty, bridge disabled")
		return nil
	}
	if b.initialized {
		slog.Debug("Bridge.Initialize: already initialized")
		return nil
	}

	// Best effort: agents need the attribute definition to toggle the bot,
	// but a failure here must not keep messages from relaying.
	if err := b.ensureBotFeatureAttribute(ctx); err != nil {
		slog.Error("Bridge.Initialize: failed to ensure bot feature attribute definition", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.queue.Start(runCtx)

	if src, ok := b.runtime.(messaging.InboundSource); ok {
		b.wg.Add(1)
		go b.consumeInbound(src.InboundMessages())
	} else {
		slog.Debug("Bridge.Initialize: runtime exposes no inbound source, skipping")
	}
	if src, ok := b.runtime.(messaging.OutboundSource); ok {
		b.wg.Add(1)
		go b.consumeOutbound(src.OutboundReplies())
	} else {
		slog.Debug("Bridge.Initialize: runtime exposes no outbound source, skipping")
	}

	b.initialized = true
	slog.Info("Bridge initialized", "base_url", b.cfg.BaseURL, "account_id", b.cfg.AccountID, "inbox_id", b.cfg.InboxID)
	return nil
}

// Shutdown stops event consumption and the queue. Pending tasks are dropped;
// nothing is persisted across restarts.
func (b *Bridge) Shutdown() {
	if !b.initialized {
		return
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.queue.Stop()
	b.initialized = false
	slog.Info("Bridge shut down")
}

// QueueDepth reports the number of pending dispatch tasks (health endpoint).
func (b *Bridge) QueueDepth() int {
	return b.queue.Depth()
}

// ensureBotFeatureAttribute creates the bot feature custom attribute
// definition on the CRM account when it does not exist yet.
func (b *Bridge) ensureBotFeatureAttribute(ctx context.Context) error {
	defs, err := b.directory.ListAttributeDefinitions(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if def.Key == models.BotFeatureKey {
			slog.Debug("Bridge bot feature attribute definition already present", "definition_id", def.ID)
			return nil
		}
	}
	slog.Info("Bridge creating bot feature attribute definition", "key", models.BotFeatureKey)
	return b.directory.CreateAttributeDefinition(ctx, models.AttributeDefinition{
		DisplayName: "Funciones del Bot",
		Key:         models.BotFeatureKey,
		Model:       chatwoot.AttributeModelContact,
		DisplayType: chatwoot.AttributeDisplayTypeList,
		Values:      []string{string(models.FeatureOn), string(models.FeatureOff)},
	})
}

// consumeInbound drains the runtime's inbound channel until it closes.
func (b *Bridge) consumeInbound(ch <-chan models.InboundMessage) {
	defer b.wg.Done()
	for msg := range ch {
		b.EnqueueInbound(msg)
	}
	slog.Debug("Bridge inbound consumer stopped")
}

// consumeOutbound drains the runtime's outbound channel until it closes.
func (b *Bridge) consumeOutbound(ch <-chan models.OutboundReply) {
	defer b.wg.Done()
	for reply := range ch {
		b.EnqueueOutbound(reply)
	}
	slog.Debug("Bridge outbound consumer stopped")
}

// EnqueueInbound normalizes an end-user message event and appends its relay
// task to the ordered queue.
func (b *Bridge) EnqueueInbound(msg models.InboundMessage) {
	slog.Debug("Bridge inbound event", "state", models.EventStateReceived, "from", msg.From)

	canonical, err := messaging.CanonicalizePhone(msg.From)
	if err != nil {
		slog.Error("Bridge inbound event dropped", "state", models.EventStateFailed, "from", msg.From, "error", err)
		return
	}
	msg.From = canonical
	slog.Debug("Bridge inbound event", "state", models.EventStateNormalized, "from", msg.From)

	taskID := b.queue.Enqueue("inbound_relay", func(ctx context.Context) error {
		slog.Debug("Bridge inbound event", "state", models.EventStateExecuting, "from", msg.From)
		if err := b.relayInbound(ctx, msg); err != nil {
			slog.Error("Bridge inbound event", "state", models.EventStateFailed, "from", msg.From, "error", err)
			return err
		}
		slog.Debug("Bridge inbound event", "state", models.EventStateDone, "from", msg.From)
		return nil
	})
	slog.Debug("Bridge inbound event", "state", models.EventStateEnqueued, "from", msg.From, "task_id", taskID)
}

// EnqueueOutbound normalizes a bot reply event and appends its relay task to
// the ordered queue.
func (b *Bridge) EnqueueOutbound(reply models.OutboundReply) {
	slog.Debug("Bridge outbound event", "state", models.EventStateReceived, "to", reply.Recipient)

	canonical, err := messaging.CanonicalizePhone(reply.Recipient)
	if err != nil {
		slog.Error("Bridge outbound event dropped", "state", models.EventStateFailed, "to", reply.Recipient, "error", err)
		return
	}
	reply.Recipient = canonical
	slog.Debug("Bridge outbound event", "state", models.EventStateNormalized, "to", reply.Recipient)

	taskID := b.queue.Enqueue("outbound_relay", func(ctx context.Context) error {
		slog.Debug("Bridge outbound event", "state", models.EventStateExecuting, "to", reply.Recipient)
		if err := b.relayOutbound(ctx, reply); err != nil {
			slog.Error("Bridge outbound event", "state", models.EventStateFailed, "to", reply.Recipient, "error", err)
			return err
		}
		slog.Debug("Bridge outbound event", "state", models.EventStateDone, "to", reply.Recipient)
		return nil
	})
	slog.Debug("Bridge outbound event", "state", models.EventStateEnqueued, "to", reply.Recipient, "task_id", taskID)
}

// HandleAgentEvent re-emits a webhook payload into the pipeline as an agent
// event. Processing is fire-and-forget; today the task only records the
// payload for future routing.
func (b *Bridge) HandleAgentEvent(evt models.AgentEvent) {
	taskID := b.queue.Enqueue("agent_event", func(ctx context.Context) error {
		slog.Info("Bridge agent event processed", "payload_bytes", len(evt.Payload))
		return nil
	})
	slog.Debug("Bridge agent event enqueued", "task_id", taskID, "payload_bytes", len(evt.Payload))
}

// relayInbound mirrors an end-user message onto the remote conversation.
func (b *Bridge) relayInbound(ctx context.Context, msg models.InboundMessage) error {
	conversationID, err := b.resolver.Resolve(ctx, msg.From, displayNameFor(msg))
	if err != nil {
		return err
	}

	relay := models.RelayMessage{
		Content: msg.Body,
		Type:    models.MessageTypeIncoming,
		Private: false,
	}
	if msg.AttachmentURL != "" {
		return b.relayWithAttachments(ctx, conversationID, relay, []string{msg.AttachmentURL})
	}
	return b.directory.CreateMessage(ctx, conversationID, relay, nil)
}

// relayOutbound mirrors a bot reply onto the remote conversation, first
// running the feature gate; a disabled contact's reply is suppressed.
func (b *Bridge) relayOutbound(ctx context.Context, reply models.OutboundReply) error {
	flag, err := b.gate.Evaluate(ctx, reply.Recipient)
	if err != nil {
		return err
	}
	if flag == models.FeatureOff {
		slog.Info("Bridge outbound relay suppressed by feature flag", "to", reply.Recipient)
		return nil
	}

	conversationID, err := b.resolver.Resolve(ctx, reply.Recipient, reply.Recipient)
	if err != nil {
		return err
	}

	relay := models.RelayMessage{
		Content: reply.Answer,
		Type:    models.MessageTypeOutgoing,
		Private: true,
	}
	if reply.MediaURL != "" {
		return b.relayWithAttachments(ctx, conversationID, relay, []string{reply.MediaURL})
	}
	return b.directory.CreateMessage(ctx, conversationID, relay, nil)
}

// relayWithAttachments downloads each attachment URL and posts the message
// with every file that resolved. Files whose extension cannot be inferred are
// skipped individually; only a message with zero resolvable files falls back
// to a plain note.
func (b *Bridge) relayWithAttachments(ctx context.Context, conversationID int, relay models.RelayMessage, urls []string) error {
	var files []*chatwoot.File
	for _, rawURL := range urls {
		file, err := b.fetcher.Fetch(ctx, rawURL)
		if err != nil {
			slog.Warn("Bridge skipping unresolvable attachment", "url", rawURL, "error", err)
			continue
		}
		files = append(files, file)
	}
	if len(files) == 0 {
		slog.Warn("Bridge no attachments resolved, relaying content only", "conversation_id", conversationID, "urls", len(urls))
		return b.directory.CreateMessage(ctx, conversationID, relay, nil)
	}
	return b.directory.CreateMessage(ctx, conversationID, relay, files)
}

// displayNameFor picks the contact display name for first contact: the chat
// push name when present, else the phone number itself.
func displayNameFor(msg models.InboundMessage) string {
	if msg.PushName != "" {
		return msg.PushName
	}
	return msg.From
}
