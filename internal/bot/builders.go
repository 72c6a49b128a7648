package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Keeeszo/friends-bot/internal/builders"
	kit "github.com/Keeeszo/friends-bot/internal/transport"
	"github.com/Keeeszo/friends-bot/pkg/logx"
	"github.com/Keeeszo/friends-bot/pkg/tgui"
)

const (
	callbackScope  = "bld"
	callbackCancel = "cancel"

	// Telegram accepts up to 100 inline buttons per message.
	maxCancelButtons = 90
)

// Builders serves /constructores.
type Builders struct {
	registry *builders.Registry
	ledger   *builders.Ledger
	now      func() time.Time
}

func NewBuilders(registry *builders.Registry, ledger *builders.Ledger, now func() time.Time) *Builders {
	if now == nil {
		now = time.Now
	}
	return &Builders{registry: registry, ledger: ledger, now: now}
}

func (b *Builders) Commands() []Command {
	return []Command{
		{
			Route:       "constructores",
			Description: "Gestión de múltiples constructores para tu cuenta de Telegram",
			Usage:       "/constructores <add|build|list|cancel>",
			Handle:      b.handleRoot,
		},
		{
			Route:       "constructores add",
			Description: "Registrar una cuenta del clan y su número de constructores",
			Usage:       "/constructores add <tag|nombre> <cantidad>",
			Handle:      b.handleAdd,
		},
		{
			Route:       "constructores build",
			Description: "Registrar una construcción en curso",
			Usage:       "/constructores build <tag|nombre> <tiempo> [descripción]",
			Handle:      b.handleBuild,
		},
		{
			Route:       "constructores list",
			Description: "Ver tus cuentas y construcciones activas",
			Usage:       "/constructores list [nombre]",
			Handle:      b.handleList,
		},
		{
			Route:       "constructores cancel",
			Description: "Cancelar una construcción",
			Usage:       "/constructores cancel <tag|nombre> <número|id>",
			Handle:      b.handleCancel,
		},
	}
}

func (b *Builders) Callbacks() []CallbackRoute {
	return []CallbackRoute{{Scope: callbackScope, Action: callbackCancel, Handle: b.handleCancelButton}}
}

func (b *Builders) handleRoot(ctx context.Context, req *Request) error {
	if len(req.Args) > 0 {
		return req.Reply(ctx, tgui.New().Line("Subcomando no reconocido: "+req.Args[0]).Build())
	}
	return req.Reply(ctx, tgui.New().
		Title("🔨", "Gestión de Constructores").
		Blank().
		Line("📌 Comandos disponibles:").
		HTML(tgui.Code("/constructores add <tag> <cantidad>")).
		HTML(tgui.Code("/constructores build <tag/nombre> <tiempo> [desc]")).
		HTML(tgui.Code("/constructores list [filtro]")).
		HTML(tgui.Code("/constructores cancel <tag/nombre> <id>")).
		Build())
}

func (b *Builders) handleAdd(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		return req.Reply(ctx, tgui.New().
			HTML(tgui.H("Formato: "+tgui.Code("/constructores add <tag_jugador/nombre> <cantidad>").String())).
			HTML(tgui.H("Ejemplo: "+tgui.Code("/constructores add #VGGG0VY 5").String())).
			Build())
	}
	ident := req.Args[0]
	capacity, err := strconv.Atoi(req.Args[1])
	if err != nil {
		return req.Reply(ctx, tgui.New().Line("La cantidad debe ser un número entero").Build())
	}
	if err := b.registry.ValidateCapacity(capacity); err != nil {
		lo, hi := b.registry.CapacityRange()
		return req.Reply(ctx, tgui.New().Line(fmt.Sprintf("La cantidad debe ser entre %d y %d", lo, hi)).Build())
	}

	acct, err := b.registry.RegisterMember(ctx, req.OwnerID(), req.FromName, ident, capacity)
	if errors.Is(err, builders.ErrMemberNotFound) {
		return req.Reply(ctx, tgui.New().Line("❌ El jugador "+ident+" no es miembro del clan actual").Build())
	}
	if err != nil {
		return b.fail(ctx, req, err)
	}
	return req.Reply(ctx, tgui.New().
		Line(fmt.Sprintf("✅ Se han asignado %d constructores al jugador:", acct.Capacity)).
		Line(fmt.Sprintf("Nombre: %s [ %s ]", acct.Name, acct.Tag)).
		Line("Nivel de ayuntamiento: TH"+strconv.Itoa(acct.Level)).
		Line("Usuario TG: "+req.FromName).
		Build())
}

func (b *Builders) handleBuild(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		return req.Reply(ctx, tgui.New().
			HTML(tgui.H("🔨 "+tgui.B("Uso correcto:").String())).
			HTML(tgui.H("Por tag: "+tgui.Code("/constructores build #VGGG0VY 2d8h [descripción]").String())).
			HTML(tgui.H("📝 "+tgui.B("Duración:").String()+" usa el formato 1d2h30m (días, horas, minutos)")).
			Build())
	}
	ident, dur := req.Args[0], req.Args[1]
	task, acct, err := b.ledger.AddTask(ctx, builders.AddRequest{
		OwnerID:     req.OwnerID(),
		Account:     ident,
		Duration:    dur,
		Description: strings.Join(req.Args[2:], " "),
	})
	if errors.Is(err, builders.ErrAccountNotFound) {
		return b.replyAccounts(ctx, req)
	}
	if err != nil {
		return b.fail(ctx, req, err)
	}
	return req.Reply(ctx, tgui.New().
		Title("🏗️", "Nueva construcción registrada").
		Blank().
		Line(fmt.Sprintf("• 👷 Constructor: %s (TH%d)", acct.Name, acct.Level)).
		Line("• ⏱️ Duración: "+dur).
		Line("• 📝 Descripción: "+task.Description).
		Line(fmt.Sprintf("• 🔨 Constructores: %d/%d", len(acct.Tasks), acct.Capacity)).
		Line("• 🕒 Finaliza en "+builders.FormatRemaining(task.End, b.now())).
		Build())
}

func (b *Builders) handleList(ctx context.Context, req *Request) error {
	filter := strings.Join(req.Args, " ")
	accts, err := b.ledger.Overview(ctx, req.OwnerID(), filter)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	if len(accts) == 0 {
		if filter != "" {
			return req.Reply(ctx, tgui.New().Line(fmt.Sprintf("ℹ️ No se encontró la cuenta con nombre exacto: '%s'", filter)).Build())
		}
		return req.Reply(ctx, tgui.New().Line("No tienes constructores registrados").Build())
	}
	return req.Reply(ctx, b.renderList(accts))
}

// renderList shows every account with its tasks and one cancel button per task.
// Accounts that no longer fit in one message are summarised in a closing line.
func (b *Builders) renderList(accts []builders.Account) tgui.Message {
	now := b.now()
	msg := tgui.New().Title("🏗️", "Tus constructores registrados")
	kb := tgui.NewInline()
	for i, a := range accts {
		block := b.accountBlock(a, now)
		if msg.Size()+block.Size()+listTailReserve > tgui.MaxMessageLen {
			msg.Blank().HTML(tgui.H(fmt.Sprintf("… y %d cuentas más. Usa %s para ver una sola.",
				len(accts)-i, tgui.Code("/constructores list <nombre>"))))
			break
		}
		msg.Append(block)
		for j, t := range a.Tasks {
			if kb.Len() >= maxCancelButtons {
				break
			}
			data, err := tgui.Data(callbackScope, callbackCancel, a.Tag+"|"+t.ID)
			if err != nil {
				continue
			}
			label := tgui.TruncRunes(fmt.Sprintf("❌ %s #%d %s", a.Name, j+1, t.Description), 40)
			kb.Row(tgui.Btn(label, data))
		}
	}
	return msg.Inline(kb).Build()
}

// listTailReserve leaves room for the "… y N cuentas más" line.
const listTailReserve = 100

func (b *Builders) accountBlock(a builders.Account, now time.Time) *tgui.Builder {
	blk := tgui.New().Blank().
		HTML(tgui.H(fmt.Sprintf("🔧 %s (TH%d) - %s", tgui.B(a.Name), a.Level, tgui.Esc(a.Tag)))).
		Line(fmt.Sprintf("Constructores: %d/%d activos", len(a.Tasks), a.Capacity))
	for i, t := range a.Tasks {
		left := builders.FormatRemaining(t.End, now)
		when := "🕒 Finaliza en " + left
		if left == builders.DueNow {
			when = "🕒 " + left
		}
		blk.Line(fmt.Sprintf("%d. ⏳ %s", i+1, t.Description)).Line("   " + when)
	}
	return blk
}

func (b *Builders) handleCancel(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		return req.Reply(ctx, tgui.New().
			HTML(tgui.H("🔨 "+tgui.B("Uso correcto:").String()+" "+tgui.Code("/constructores cancel <nombre_cuenta> <id_constructor>").String())).
			HTML(tgui.H("Ejemplo: "+tgui.Code("/constructores cancel Keeeszo 1").String())).
			HTML(tgui.H("ℹ️ Usa el número que aparece en "+tgui.Code("/constructores list").String())).
			Build())
	}
	ident, ref := req.Args[0], req.Args[1]
	task, acct, err := b.ledger.CancelTask(ctx, req.OwnerID(), ident, ref)
	if errors.Is(err, builders.ErrAccountNotFound) {
		return req.Reply(ctx, tgui.New().
			Line(fmt.Sprintf("❌ No se encontró la cuenta '%s'", ident)).
			HTML(tgui.H("Usa "+tgui.Code("/constructores list").String()+" para ver tus cuentas")).
			Build())
	}
	if err != nil {
		return b.fail(ctx, req, err)
	}
	return req.Reply(ctx, cancelledMessage(acct, task))
}

func cancelledMessage(acct builders.Account, task builders.Task) tgui.Message {
	return tgui.New().
		Title("🗑️", "Construcción cancelada exitosamente").
		Blank().
		Line("• 🔧 Cuenta: "+acct.Name).
		Line("• 📝 Descripción: "+task.Description).
		Blank().
		Line(fmt.Sprintf("🏗️ Constructores libres: %d", acct.Free())).
		Build()
}

// handleCancelButton serves "bld:cancel:<tag>|<task id>". The ledger only finds
// the account under the presser's own id, so nobody can cancel someone else's task.
func (b *Builders) handleCancelButton(ctx context.Context, req *Request, payload string) error {
	cb := req.Update.Callback
	tag, id, ok := strings.Cut(payload, "|")
	if !ok || tag == "" || id == "" {
		return req.Adapter.AnswerCallback(ctx, cb.ID, "Botón inválido")
	}
	task, _, err := b.ledger.CancelTask(ctx, req.OwnerID(), tag, id)
	switch {
	case errors.Is(err, builders.ErrAccountNotFound):
		return req.Adapter.AnswerCallback(ctx, cb.ID, "Esta construcción no es tuya")
	case errors.Is(err, builders.ErrTaskNotFound):
		_ = req.Adapter.AnswerCallback(ctx, cb.ID, "Esa construcción ya no existe")
	case err != nil:
		_ = req.Adapter.AnswerCallback(ctx, cb.ID, "Error al cancelar")
		return err
	default:
		_ = req.Adapter.AnswerCallback(ctx, cb.ID, "Cancelada: "+tgui.TruncRunes(task.Description, 40))
	}

	// Refresh the list the button belonged to.
	accts, err := b.ledger.Overview(ctx, req.OwnerID(), "")
	if err != nil {
		return err
	}
	ref := kitRef(req)
	if len(accts) == 0 {
		return tgui.New().Line("No tienes constructores registrados").Build().Edit(ctx, req.Adapter, ref)
	}
	return b.renderList(accts).Edit(ctx, req.Adapter, ref)
}

func kitRef(req *Request) kit.MessageRef {
	cb := req.Update.Callback
	return kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
}

func (b *Builders) replyAccounts(ctx context.Context, req *Request) error {
	accts, err := b.registry.Accounts(ctx, req.OwnerID())
	if err != nil {
		return b.fail(ctx, req, err)
	}
	if len(accts) == 0 {
		return req.Reply(ctx, tgui.New().Line("No tienes cuentas registradas").Build())
	}
	msg := tgui.New().HTML(tgui.H("🔍 " + tgui.B("Cuenta no encontrada").String() + ". Tus cuentas registradas:"))
	for _, a := range accts {
		msg.Line(fmt.Sprintf("• %s (TH%d) - %s - %d/%d const.", a.Name, a.Level, a.Tag, len(a.Tasks), a.Capacity))
	}
	return req.Reply(ctx, msg.Build())
}

// fail replies with the message for err. Expected domain errors are answered
// and swallowed; anything else is reported to the request log as well.
func (b *Builders) fail(ctx context.Context, req *Request, err error) error {
	msg, known := errorMessage(err)
	if errors.Is(err, builders.ErrUpstreamUnavailable) {
		req.Logger.Warn("upstream unavailable", logx.Err(err))
	}
	if rerr := req.Reply(ctx, msg); rerr != nil {
		req.Logger.Warn("reply failed", logx.Err(rerr))
	}
	if known {
		return nil
	}
	return err
}
