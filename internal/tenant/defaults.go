package tenant

import (
	"maps"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
)

const (
	DefaultSimilarityThreshold = 0.5
	DefaultWelcomeWindowHours  = 24
	DefaultFirstPurchaseBonus  = 1
	DefaultRepeatPurchaseBonus = 3
)

// DefaultPaymentPhrases is the payment-confirmation lexicon used when a
// tenant does not define its own.
var DefaultPaymentPhrases = []string{
	"comprobante de pago",
	"ya hice el pago",
	"ya pague",
	"ya pagué",
	"ya hice el yape",
	"payment proof",
	"already paid",
}

// DefaultGreetingTokens suppress the welcome message when present.
var DefaultGreetingTokens = []string{"hola"}

// DefaultPaymentQR is the Yape QR sent with every stock package.
const DefaultPaymentQR = "https://blogger.googleusercontent.com/img/b/R29vZ2xl/AVvXsEjVr57hBat6RGw80ZKF7DZgjmGsFiBQdCeBc1fIGsNF9RBfuhWSYtdWce3GdxJedoyIWCLiGd44B4-zYFFJsD_tLGvAfCAD6p0mZl8et3Ak149N5dlek16wfEQdbsKJdF49WLYFvtNFvV-WPuKvpFnA1JWthDtw57AQ_U422Rcgi8WvrV7iQa0pdRzu0yVe/s1490/1000014418.png"

// DefaultPackages is the stock credit table, keyed by price in soles.
var DefaultPackages = map[string]domain.Package{
	"10":  {Credits: 60, MediaURL: DefaultPaymentQR},
	"20":  {Credits: 125, MediaURL: DefaultPaymentQR},
	"50":  {Credits: 330, MediaURL: DefaultPaymentQR},
	"100": {Credits: 700, MediaURL: DefaultPaymentQR},
	"200": {Credits: 1500, MediaURL: DefaultPaymentQR},
}

// DefaultReplies are the stock customer-facing texts.
var DefaultReplies = domain.Replies{
	Welcome: "¡Hola! ¿Cómo puedo ayudarte hoy?",
	PaymentTemplate: "¡Listo, leyenda! Escanea el QR y paga directo por Yape.\n\n" +
		"*Monto:* S/{{amount}}\n*Créditos:* {{credits}}\n\n" +
		"Una vez que pagues, envía el comprobante y tu correo registrado en la app. Te activamos los créditos al toque.",
	PaymentAck: "¡Recibido! He reenviado tu comprobante a nuestro equipo de soporte para que activen tus créditos de inmediato. " +
		"Te avisaremos en cuanto estén listos.",
	Gift:           "¡Como valoramos tu confianza, te hemos regalado {{credits}} crédito(s) extra en tu cuenta! 🎁",
	Escalation:     "Ya envié una alerta a nuestro equipo de soporte. Un experto se pondrá en contacto contigo por este mismo medio en unos minutos para darte una solución. Estamos en ello.",
	HumanForward:   "Ya envié una alerta a nuestro equipo de soporte. Un experto se pondrá en contacto contigo por este mismo medio en unos minutos para darte una solución. Estamos en ello.",
	MediaApology:   "Lo siento, hubo un problema al generar los datos de pago. Por favor, inténtalo de nuevo o contacta a soporte.",
	CallRejected:   "Hola, soy un asistente virtual y solo atiendo por mensaje de texto. Por favor, escribe tu consulta por aquí.",
	Unsupported:    "Lo siento, solo puedo procesar mensajes de texto, imágenes y audios. Por favor, envía tu consulta en uno de esos formatos.",
	ManualReplyAck: "¡Recibido! Tu respuesta ha sido procesada.",
}

// ApplyDefaults fills zero-valued fields of cfg in place.
func ApplyDefaults(cfg *domain.BusinessConfig) {
	if cfg.ActiveInferenceBackend == "" {
		cfg.ActiveInferenceBackend = domain.BackendGemini
	}
	if b, ok := domain.ParseInferenceBackend(string(cfg.ActiveInferenceBackend)); ok {
		cfg.ActiveInferenceBackend = b
	}
	if b, ok := domain.ParseInferenceBackend(string(cfg.SecondaryBackend)); ok {
		cfg.SecondaryBackend = b
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.WelcomeWindowHours == 0 {
		cfg.WelcomeWindowHours = DefaultWelcomeWindowHours
	}
	if cfg.FirstPurchaseBonus == 0 {
		cfg.FirstPurchaseBonus = DefaultFirstPurchaseBonus
	}
	if cfg.RepeatPurchaseBonus == 0 {
		cfg.RepeatPurchaseBonus = DefaultRepeatPurchaseBonus
	}
	if len(cfg.PaymentPhrases) == 0 {
		cfg.PaymentPhrases = append([]string(nil), DefaultPaymentPhrases...)
	}
	if len(cfg.GreetingTokens) == 0 {
		cfg.GreetingTokens = append([]string(nil), DefaultGreetingTokens...)
	}
	if cfg.Packages == nil {
		cfg.Packages = maps.Clone(DefaultPackages)
	}
	if cfg.LocalAnswers == nil {
		cfg.LocalAnswers = map[string][]string{}
	}

	r := &cfg.Replies
	d := DefaultReplies
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&r.Welcome, d.Welcome)
	fill(&r.PaymentTemplate, d.PaymentTemplate)
	fill(&r.PaymentAck, d.PaymentAck)
	fill(&r.Gift, d.Gift)
	fill(&r.Escalation, d.Escalation)
	fill(&r.HumanForward, d.HumanForward)
	fill(&r.MediaApology, d.MediaApology)
	fill(&r.CallRejected, d.CallRejected)
	fill(&r.Unsupported, d.Unsupported)
	fill(&r.ManualReplyAck, d.ManualReplyAck)
}
