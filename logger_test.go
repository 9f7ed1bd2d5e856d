package dbrouter_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/ice-blockchain/go-dbrouter"
)

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	logger.Report(NodeRemovedEvent{
		NodeEvent: NodeEvent{BaseEvent: NewBaseEvent("dbrouter.pool"), Group: 1, Role: "SLAVE2", Addr: "db3:3306"},
		Error:     errors.New("connection refused"),
	})

	out := buf.String()
	require.Contains(t, out, "level=ERROR")
	require.Contains(t, out, "event=node_removed")
	require.Contains(t, out, "component=dbrouter.pool")
	require.Contains(t, out, "role=SLAVE2")
	require.Contains(t, out, "addr=db3:3306")
	require.Contains(t, out, "connection refused")
}

func TestSlogLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	logger := base.WithContext(context.Background())

	logger.Report(AdminCommandEvent{
		BaseEvent: NewBaseEvent("dbrouter.document"),
		Command:   "shardCollection",
		Namespace: "app.users",
	})
	require.Contains(t, buf.String(), "level=INFO")
	require.Contains(t, buf.String(), "namespace=app.users")
}

func TestSimpleLogger(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	LoggerOrDefault(nil).Report(ConnectFailedEvent{
		BaseEvent: NewBaseEvent("dbrouter.document"),
		Shard:     2,
		Addr:      "mongo2:27017",
		Error:     errors.New("no reachable servers"),
	})
	require.Contains(t, buf.String(), "[ERROR] Connect failed [event=connect_failed]")
	require.Contains(t, buf.String(), "Error: no reachable servers")
}
