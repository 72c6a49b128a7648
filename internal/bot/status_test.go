package bot

import (
	"strings"
	"testing"
	"time"
)

func TestStatusMessage(t *testing.T) {
	t.Parallel()
	st := Status{
		Owners: 2, Accounts: 3, Tasks: 4, Overdue: 1,
		Timezone: "America/Santiago",
		Scan:     JobStatus{Scheduled: true, Next: testNow.Add(time.Minute), Runs: 10, Failures: 2, LastErr: "db <locked>"},
		Sent:     5,
		LastSent: testNow,
	}
	text := StatusMessage(st).Text
	for _, want := range []string{
		"<b>Estado del bot</b>",
		"Usuarios: 2 · Cuentas: 3",
		"Construcciones activas: 4",
		"Pendientes de aviso: 1",
		"Próxima: 10/05 18:01 (America/Santiago)",
		"Ejecuciones: 10 · Fallos: 2",
		"<code>db &lt;locked&gt;</code>",
		"Avisos enviados (24h): 5, último 10/05 18:00",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Reporte programado") {
		t.Fatalf("unscheduled report rendered:\n%s", text)
	}
}
