package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/Keeeszo/friends-bot/pkg/logx"
	"github.com/Keeeszo/friends-bot/pkg/tgui"
)

// Status is the operational digest shown by /estado and the scheduled report.
type Status struct {
	Owners   int
	Accounts int
	Tasks    int
	Overdue  int

	Timezone string
	Scan     JobStatus
	Report   JobStatus

	// Notifications delivered during the last day.
	Sent     int
	LastSent time.Time
}

// JobStatus mirrors one scheduler entry. Times are in the scheduler's zone.
type JobStatus struct {
	Scheduled bool
	Next      time.Time
	LastRun   time.Time
	Runs      uint64
	Failures  uint64
	LastErr   string
}

type StatusFunc func(ctx context.Context) (Status, error)

// StatusCommand serves /estado from fn.
func StatusCommand(fn StatusFunc) Command {
	return Command{
		Route:       "estado",
		Description: "Estado del bot y del aviso de construcciones",
		Usage:       "/estado",
		Handle: func(ctx context.Context, req *Request) error {
			st, err := fn(ctx)
			if err != nil {
				req.Logger.Warn("status failed", logx.Err(err))
				return req.Reply(ctx, tgui.New().Line(msgGenericError).Build())
			}
			return req.Reply(ctx, StatusMessage(st))
		},
	}
}

const statusTimeLayout = "02/01 15:04"

// StatusMessage renders st as HTML.
func StatusMessage(st Status) tgui.Message {
	msg := tgui.New().Title("📊", "Estado del bot").
		Blank().
		Line(fmt.Sprintf("👥 Usuarios: %d · Cuentas: %d", st.Owners, st.Accounts)).
		Line(fmt.Sprintf("🏗️ Construcciones activas: %d", st.Tasks))
	if st.Overdue > 0 {
		msg.Line(fmt.Sprintf("⚠️ Pendientes de aviso: %d", st.Overdue))
	}

	msg.Blank().HTML(tgui.B("🔁 Revisión de construcciones"))
	if !st.Scan.Scheduled {
		msg.Line("No programada")
	} else {
		jobLines(msg, st.Scan, st.Timezone)
	}

	if st.Report.Scheduled {
		msg.Blank().HTML(tgui.B("📝 Reporte programado"))
		jobLines(msg, st.Report, st.Timezone)
	}

	msg.Blank()
	if st.LastSent.IsZero() {
		msg.Line(fmt.Sprintf("✉️ Avisos enviados (24h): %d", st.Sent))
	} else {
		msg.Line(fmt.Sprintf("✉️ Avisos enviados (24h): %d, último %s", st.Sent, st.LastSent.Format(statusTimeLayout)))
	}
	return msg.Build()
}

func jobLines(msg *tgui.Builder, j JobStatus, tz string) {
	if !j.Next.IsZero() {
		msg.Line(fmt.Sprintf("Próxima: %s (%s)", j.Next.Format(statusTimeLayout), tz))
	}
	msg.Line(fmt.Sprintf("Ejecuciones: %d · Fallos: %d", j.Runs, j.Failures))
	if j.LastErr != "" {
		msg.HTML(tgui.JoinH(" ", tgui.Esc("Último error:"), tgui.Code(tgui.TruncRunes(j.LastErr, 200))))
	}
}
