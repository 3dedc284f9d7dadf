// Package admin executes the slash commands tenant operators send to the
// bot from a roster number.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/hooks"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/resolver"
)

// Fixed replies.
const (
	msgPaused         = "✅ Bot pausado. No responderé a los mensajes."
	msgResumed        = "✅ Bot reanudado. Volveré a responder."
	msgBackendUsage   = "❌ Comando inválido. Usa: /useai <gemini|cohere|openai|local>"
	msgAddUsage       = "❌ Comando inválido. Usa: /addlocal <pregunta> | <respuesta>"
	msgEditUsage      = "❌ Comando inválido. Usa: /editlocal <pregunta> | <nueva_respuesta>"
	msgDeleteUsage    = "❌ Comando inválido. Usa: /deletelocal <pregunta>"
	msgLocalMissing   = "❌ La respuesta local no existe."
	msgWelcomeSet     = "✅ Mensaje de bienvenida actualizado."
	msgWelcomeUsage   = "❌ Comando inválido. Usa: /setwelcome <mensaje>"
	msgPromptUsage    = "❌ Comando inválido. Usa: /setprompt <texto>"
	msgMediaUsage     = "❌ Uso: /sendmedia | <número_destino> | <url> | <tipo> | [caption]"
	msgMediaFailed    = "❌ Error al enviar el archivo."
	msgBulkUsage      = "❌ Uso: /sendbulk | <num1,num2,...> | <mensaje>"
	msgSaveFailed     = "❌ No se pudo guardar la configuración."
	msgUnknownCommand = "❌ Comando de administrador no reconocido."
)

// Command names and their aliases.
var aliases = map[string]string{
	"pause":               "pause",
	"resume":              "resume",
	"select-backend":      "select-backend",
	"useai":               "select-backend",
	"set-prompt":          "set-prompt",
	"setprompt":           "set-prompt",
	"setgeminiprompt":     "set-prompt-gemini",
	"setopenaiprompt":     "set-prompt-openai",
	"setcohereprompt":     "set-prompt-cohere",
	"add-local-answer":    "add-local-answer",
	"addlocal":            "add-local-answer",
	"edit-local-answer":   "edit-local-answer",
	"editlocal":           "edit-local-answer",
	"delete-local-answer": "delete-local-answer",
	"deletelocal":         "delete-local-answer",
	"set-welcome":         "set-welcome",
	"setwelcome":          "set-welcome",
	"send-media":          "send-media",
	"sendmedia":           "send-media",
	"send-bulk":           "send-bulk",
	"sendbulk":            "send-bulk",
	"status":              "status",
}

// TenantUpdater applies copy-on-write tenant mutations.
type TenantUpdater interface {
	Update(id string, fn func(*domain.BusinessConfig) error) (domain.BusinessConfig, error)
}

// Sessions sends through a session and reports its state.
type Sessions interface {
	Send(ctx context.Context, id string, msg domain.OutboundMessage) error
	Get(id string) (domain.SessionInfo, error)
}

// MediaFetcher downloads media for send-media.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string, kind domain.MediaKind) (*domain.Media, error)
}

// Command is a parsed admin message.
type Command struct {
	Name string
	// Arg is the text after the command word in the first segment.
	Arg string
	// Args are the remaining |-separated segments.
	Args []string
}

// Parse splits "/name arg | a | b" into a command. ok is false when body
// has no command prefix.
func Parse(body string) (Command, bool) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "/") {
		return Command{}, false
	}
	parts := strings.Split(body[1:], "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	name, arg, _ := strings.Cut(parts[0], " ")
	return Command{
		Name: strings.ToLower(name),
		Arg:  strings.TrimSpace(arg),
		Args: parts[1:],
	}, true
}

// Processor executes admin commands. Tenant mutations go through the tenant
// store; sends go through the session registry.
type Processor struct {
	tenants  TenantUpdater
	sessions Sessions
	media    MediaFetcher
	pacer    *Pacer
	hooks    *hooks.Manager
	log      *logging.Logger
}

// NewProcessor creates a processor. media may be nil, which disables
// send-media.
func NewProcessor(tenants TenantUpdater, sessions Sessions, media MediaFetcher, pacer *Pacer, hm *hooks.Manager, log *logging.Logger) *Processor {
	if pacer == nil {
		pacer = NewPacer(DefaultBulkInterval)
	}
	return &Processor{
		tenants:  tenants,
		sessions: sessions,
		media:    media,
		pacer:    pacer,
		hooks:    hm,
		log:      log.Sub("admin"),
	}
}

// HandleCommand runs one admin message against the tenant snapshot cfg and
// returns the reply for the operator. It always returns a non-empty text.
func (p *Processor) HandleCommand(ctx context.Context, sessionID string, cfg domain.BusinessConfig, sender, body string) string {
	cmd, ok := Parse(body)
	if !ok {
		return msgUnknownCommand
	}
	name, known := aliases[cmd.Name]
	if !known {
		p.log.Info().Str("command", cmd.Name).Msg("unknown admin command")
		return msgUnknownCommand
	}

	p.hooks.EmitAsync(ctx, hooks.EventAdminCommand, map[string]any{
		"session": sessionID,
		"tenant":  cfg.TenantID,
		"sender":  domain.PhoneNumber(sender),
		"command": name,
	})
	p.log.Info().Str("tenant", cfg.TenantID).Str("command", name).Msg("admin command")

	switch name {
	case "pause":
		return p.update(cfg.TenantID, msgPaused, func(c *domain.BusinessConfig) error {
			c.Paused = true
			return nil
		})
	case "resume":
		return p.update(cfg.TenantID, msgResumed, func(c *domain.BusinessConfig) error {
			c.Paused = false
			return nil
		})
	case "select-backend":
		b, ok := domain.ParseInferenceBackend(cmd.Arg)
		if !ok {
			return msgBackendUsage
		}
		return p.update(cfg.TenantID, fmt.Sprintf("✅ Ahora estoy usando: %s.", b), func(c *domain.BusinessConfig) error {
			c.ActiveInferenceBackend = b
			return nil
		})
	case "set-prompt":
		return p.setPrompt(cfg.TenantID, "", "", cmd.Arg)
	case "set-prompt-gemini":
		return p.setPrompt(cfg.TenantID, domain.BackendGemini, "Gemini", cmd.Arg)
	case "set-prompt-openai":
		return p.setPrompt(cfg.TenantID, domain.BackendOpenAI, "OpenAI", cmd.Arg)
	case "set-prompt-cohere":
		return p.setPrompt(cfg.TenantID, domain.BackendCohere, "Cohere", cmd.Arg)
	case "add-local-answer":
		return p.putLocal(cfg.TenantID, cmd, true)
	case "edit-local-answer":
		return p.putLocal(cfg.TenantID, cmd, false)
	case "delete-local-answer":
		return p.deleteLocal(cfg.TenantID, cmd.Arg)
	case "set-welcome":
		if cmd.Arg == "" {
			return msgWelcomeUsage
		}
		return p.update(cfg.TenantID, msgWelcomeSet, func(c *domain.BusinessConfig) error {
			c.Replies.Welcome = cmd.Arg
			return nil
		})
	case "send-media":
		return p.sendMedia(ctx, sessionID, cmd.Args)
	case "send-bulk":
		return p.sendBulk(ctx, sessionID, cmd.Args)
	case "status":
		return p.status(sessionID, cfg)
	}
	return msgUnknownCommand
}

func (p *Processor) update(tenantID, ok string, fn func(*domain.BusinessConfig) error) string {
	if _, err := p.tenants.Update(tenantID, fn); err != nil {
		p.log.Error().Err(err).Str("tenant", tenantID).Msg("admin update failed")
		return msgSaveFailed
	}
	return ok
}

func (p *Processor) setPrompt(tenantID string, backend domain.InferenceBackend, label, text string) string {
	if text == "" {
		return msgPromptUsage
	}
	ok := "✅ Prompt actualizado."
	if label != "" {
		ok = "✅ Prompt de " + label + " actualizado."
	}
	return p.update(tenantID, ok, func(c *domain.BusinessConfig) error {
		if backend == "" {
			c.SystemPrompt = text
			return nil
		}
		if c.BackendPrompts == nil {
			c.BackendPrompts = map[domain.InferenceBackend]string{}
		}
		c.BackendPrompts[backend] = text
		return nil
	})
}

// putLocal adds a variant to a local answer, or replaces all variants when
// editing.
func (p *Processor) putLocal(tenantID string, cmd Command, add bool) string {
	usage := msgEditUsage
	if add {
		usage = msgAddUsage
	}
	key := resolver.Normalize(cmd.Arg)
	if key == "" || len(cmd.Args) == 0 || cmd.Args[0] == "" {
		return usage
	}
	value := cmd.Args[0]

	verb := "editada"
	if add {
		verb = "agregada"
	}
	return p.update(tenantID, fmt.Sprintf("✅ Respuesta local para '%s' %s.", cmd.Arg, verb), func(c *domain.BusinessConfig) error {
		if c.LocalAnswers == nil {
			c.LocalAnswers = map[string][]string{}
		}
		if add {
			for _, v := range c.LocalAnswers[key] {
				if v == value {
					return nil
				}
			}
			c.LocalAnswers[key] = append(c.LocalAnswers[key], value)
			return nil
		}
		c.LocalAnswers[key] = []string{value}
		return nil
	})
}

var errLocalMissing = errors.New("local answer does not exist")

func (p *Processor) deleteLocal(tenantID, arg string) string {
	key := resolver.Normalize(arg)
	if key == "" {
		return msgDeleteUsage
	}
	_, err := p.tenants.Update(tenantID, func(c *domain.BusinessConfig) error {
		if _, ok := c.LocalAnswers[key]; !ok {
			return errLocalMissing
		}
		delete(c.LocalAnswers, key)
		return nil
	})
	switch {
	case errors.Is(err, errLocalMissing):
		return msgLocalMissing
	case err != nil:
		p.log.Error().Err(err).Str("tenant", tenantID).Msg("admin update failed")
		return msgSaveFailed
	}
	return fmt.Sprintf("✅ Respuesta local para '%s' eliminada.", key)
}

func (p *Processor) sendMedia(ctx context.Context, sessionID string, args []string) string {
	if len(args) < 3 || args[0] == "" || args[1] == "" || args[2] == "" {
		return msgMediaUsage
	}
	kind, ok := domain.ParseMediaKind(args[2])
	if !ok {
		return msgMediaUsage
	}
	var caption string
	if len(args) > 3 {
		caption = args[3]
	}
	if err := p.SendMedia(ctx, sessionID, args[0], args[1], kind, caption); err != nil {
		p.log.Warn().Err(err).Str("to", args[0]).Msg("send-media failed")
		return msgMediaFailed
	}
	return fmt.Sprintf("✅ Archivo enviado a %s.", domain.PhoneNumber(args[0]))
}

// SendMedia fetches url and sends it to number as one message with caption.
func (p *Processor) SendMedia(ctx context.Context, sessionID, number, url string, kind domain.MediaKind, caption string) error {
	if p.media == nil {
		return errors.New("media fetching is not configured")
	}
	m, err := p.media.Fetch(ctx, url, kind)
	if err != nil {
		return err
	}
	return p.sessions.Send(ctx, sessionID, domain.OutboundMessage{To: domain.JID(number), Body: caption, Media: m})
}

func (p *Processor) sendBulk(ctx context.Context, sessionID string, args []string) string {
	if len(args) < 2 || args[0] == "" || args[1] == "" {
		return msgBulkUsage
	}
	numbers := SplitNumbers(args[0])
	if len(numbers) == 0 {
		return msgBulkUsage
	}
	sent, err := p.Bulk(ctx, sessionID, numbers, args[1])
	if err != nil {
		p.log.Warn().Err(err).Int("sent", sent).Msg("bulk send interrupted")
	}
	return fmt.Sprintf("✅ Mensaje enviado a %d contactos.", sent)
}

// SplitNumbers parses a comma-separated recipient list.
func SplitNumbers(s string) []string {
	var out []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Bulk sends message to every number, paced per session and tagged with the
// manual-reply marker. A failed recipient is logged and skipped. It returns
// the number of successful sends; the error is set only when ctx ends the
// job early.
func (p *Processor) Bulk(ctx context.Context, sessionID string, numbers []string, message string) (int, error) {
	body := message + "\n\n" + domain.ManualReplyMarker
	sent := 0
	for _, n := range numbers {
		if err := p.pacer.Wait(ctx, sessionID); err != nil {
			return sent, err
		}
		if err := p.sessions.Send(ctx, sessionID, domain.OutboundMessage{To: domain.JID(n), Body: body}); err != nil {
			p.log.Warn().Err(err).Str("to", n).Msg("bulk recipient failed")
			continue
		}
		sent++
	}
	p.log.Info().Str("session", sessionID).Int("sent", sent).Int("total", len(numbers)).Msg("bulk send done")
	return sent, nil
}

func (p *Processor) status(sessionID string, cfg domain.BusinessConfig) string {
	state := "desconocido"
	if info, err := p.sessions.Get(sessionID); err == nil {
		state = string(info.State)
	}
	paused := "No"
	if cfg.Paused {
		paused = "Sí"
	}
	return fmt.Sprintf("📊 *Estado del Bot* 📊\n"+
		"Estado de conexión: *%s*\n"+
		"IA activa: *%s*\n"+
		"Bot pausado: *%s*\n"+
		"Número de respuestas locales: *%d*\n"+
		"Mensaje de bienvenida: *%s*",
		state, cfg.ActiveInferenceBackend, paused, len(cfg.LocalAnswers), cfg.Replies.Welcome)
}
