package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/pkg/tgui"
)

const (
	msgGenericError = "⚠️ Error al procesar el comando"
	msgInvalidTime  = "❌ Formato de tiempo inválido. Ejemplos válidos:\n• 3h30m\n• 2d5h\n• 45m"
	msgUnavailable  = "⚠️ El servicio no está disponible en este momento. Inténtalo de nuevo más tarde."
	msgTimeout      = "⌛ La operación tardó demasiado. Inténtalo de nuevo."
)

// errorMessage maps a domain error to the reply shown to the user. The second
// result is false for errors nobody anticipated; those get logged with the request id.
func errorMessage(err error) (tgui.Message, bool) {
	var (
		capErr *builders.CapacityError
		dupErr *builders.DuplicateTagError
	)
	switch {
	case errors.As(err, &capErr):
		return tgui.New().
			HTML(tgui.H("⚠️ "+tgui.B("Límite alcanzado").String()+" para "+tgui.Esc(capErr.Name).String()+" ("+tgui.Esc(capErr.Tag).String()+")")).
			Line(fmt.Sprintf("Tienes %d/%d construcciones activas", capErr.Used, capErr.Capacity)).
			Blank().
			HTML(tgui.H("Usa "+tgui.Code("/constructores cancel "+capErr.Tag+" <id>").String()+" para liberar espacio")).
			Build(), true
	case errors.As(err, &dupErr):
		return tgui.New().
			Line("❌ Este jugador ya está registrado por " + dupErr.OwnerName).
			Line("Tag: " + dupErr.Tag).
			Build(), true
	case errors.Is(err, builders.ErrInvalidFormat):
		return tgui.New().Line(msgInvalidTime).Build(), true
	case errors.Is(err, builders.ErrTaskNotFound):
		return tgui.New().
			Line("❌ ID inválido.").
			HTML(tgui.H("Usa " + tgui.Code("/constructores list").String() + " para ver los números de cada construcción")).
			Build(), true
	case errors.Is(err, builders.ErrCapacityOutOfRange):
		return tgui.New().Line("❌ La cantidad de constructores está fuera del rango permitido").Build(), true
	case errors.Is(err, builders.ErrMemberNotFound):
		return tgui.New().Line("❌ El jugador no es miembro del clan actual").Build(), true
	case errors.Is(err, builders.ErrAccountNotFound):
		return tgui.New().
			Line("🔍 Cuenta no encontrada").
			HTML(tgui.H("Usa " + tgui.Code("/constructores list").String() + " para ver tus cuentas")).
			Build(), true
	case errors.Is(err, builders.ErrUpstreamUnavailable):
		return tgui.New().Line(msgUnavailable).Build(), true
	case errors.Is(err, context.DeadlineExceeded):
		return tgui.New().Line(msgTimeout).Build(), false
	default:
		return tgui.New().Line(msgGenericError).Build(), false
	}
}

// NotificationMessage renders an expiry notification in HTML, mentioning the
// owner so the alert reaches them inside a shared topic.
func NotificationMessage(owner builders.Owner, acct builders.Account, task builders.Task, late bool) string {
	who := tgui.Esc(owner.Name)
	if id, err := strconv.ParseInt(owner.ID, 10, 64); err == nil && id != 0 {
		name := owner.Name
		if name == "" {
			name = owner.ID
		}
		who = tgui.Mention(name, id)
	}
	state := "está por finalizar"
	if late {
		state = "ya finalizó"
	}
	return fmt.Sprintf("⏰ %s, tu construcción %s de la cuenta %s %s.",
		who, tgui.B(task.Description), tgui.B(acct.Name), state)
}
