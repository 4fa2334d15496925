package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"atmcs-sim/internal/telemetry"
)

const (
	defaultGreptimePort  = 4001
	greptimeWriteTimeout = 5 * time.Second
)

// greptimeClient is the subset of the ingester client the writer needs.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes frames and events to GreptimeDB via the ingester
// client. Tables are created by the first write.
type GreptimeDBWriter struct {
	client       greptimeClient
	axisTable    string
	mirrorTable  string
	summaryTable string
	eventTable   string
}

// GreptimeOptions configures the connection.
type GreptimeOptions struct {
	Endpoint string // host or host:port
	Database string
	Username string
	Password string
}

// NewGreptimeDBWriter connects to GreptimeDB.
func NewGreptimeDBWriter(opts GreptimeOptions) (*GreptimeDBWriter, error) {
	host, port := opts.Endpoint, defaultGreptimePort
	if h, p, err := net.SplitHostPort(opts.Endpoint); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("greptime endpoint %q: %w", opts.Endpoint, err)
		}
		host, port = h, n
	}
	if host == "" {
		return nil, fmt.Errorf("greptime endpoint %q has no host", opts.Endpoint)
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(opts.Database)
	if opts.Username != "" {
		cfg = cfg.WithAuth(opts.Username, opts.Password)
	}
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return newGreptimeDBWriter(client), nil
}

func newGreptimeDBWriter(client greptimeClient) *GreptimeDBWriter {
	return &GreptimeDBWriter{
		client:       client,
		axisTable:    telemetry.AxisTableName,
		mirrorTable:  telemetry.MirrorTableName,
		summaryTable: telemetry.SummaryTableName,
		eventTable:   telemetry.EventTableName,
	}
}

// Write inserts a single frame.
func (w *GreptimeDBWriter) Write(f telemetry.Frame) error {
	return w.WriteBatch([]telemetry.Frame{f})
}

// WriteBatch inserts the axis, mirror and summary rows of the frames in
// one request.
func (w *GreptimeDBWriter) WriteBatch(frames []telemetry.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	axes, err := w.axisRows(frames)
	if err != nil {
		return err
	}
	mirror, err := w.mirrorRows(frames)
	if err != nil {
		return err
	}
	summary, err := w.summaryRows(frames)
	if err != nil {
		return err
	}
	return w.write(axes, mirror, summary)
}

func (w *GreptimeDBWriter) axisRows(frames []telemetry.Frame) (*table.Table, error) {
	tbl, err := table.New(w.axisTable)
	if err != nil {
		return nil, err
	}
	tbl.AddTagColumn("session_id", types.STRING)
	tbl.AddTagColumn("axis", types.STRING)
	tbl.AddFieldColumn("position", types.FLOAT64)
	tbl.AddFieldColumn("velocity", types.FLOAT64)
	tbl.AddFieldColumn("acceleration", types.FLOAT64)
	tbl.AddFieldColumn("kind", types.STRING)
	tbl.AddFieldColumn("sim_time", types.FLOAT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	for _, f := range frames {
		for _, r := range f.Axes {
			if err := tbl.AddRow(r.SessionID, r.Axis, r.Position, r.Velocity, r.Acceleration, r.Kind, r.SimTime, r.Timestamp); err != nil {
				return nil, err
			}
		}
	}
	return tbl, nil
}

func (w *GreptimeDBWriter) mirrorRows(frames []telemetry.Frame) (*table.Table, error) {
	tbl, err := table.New(w.mirrorTable)
	if err != nil {
		return nil, err
	}
	tbl.AddTagColumn("session_id", types.STRING)
	tbl.AddFieldColumn("state", types.STRING)
	tbl.AddFieldColumn("port", types.STRING)
	tbl.AddFieldColumn("sim_time", types.FLOAT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	for _, f := range frames {
		r := f.Mirror
		if err := tbl.AddRow(r.SessionID, r.State, r.Port, r.SimTime, r.Timestamp); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func (w *GreptimeDBWriter) summaryRows(frames []telemetry.Frame) (*table.Table, error) {
	tbl, err := table.New(w.summaryTable)
	if err != nil {
		return nil, err
	}
	tbl.AddTagColumn("session_id", types.STRING)
	tbl.AddFieldColumn("operational_state", types.STRING)
	tbl.AddFieldColumn("held", types.BOOLEAN)
	tbl.AddFieldColumn("last_fault_reason", types.STRING)
	tbl.AddFieldColumn("sim_time", types.FLOAT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	for _, f := range frames {
		r := f.Summary
		if err := tbl.AddRow(r.SessionID, r.OperationalState, r.Held, r.LastFaultReason, r.SimTime, r.Timestamp); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// WriteEvent inserts a single event.
func (w *GreptimeDBWriter) WriteEvent(e telemetry.EventRow) error {
	return w.WriteEvents([]telemetry.EventRow{e})
}

// WriteEvents inserts events. The axis list is stored as a JSON column.
func (w *GreptimeDBWriter) WriteEvents(rows []telemetry.EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.eventTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("session_id", types.STRING)
	tbl.AddTagColumn("event_type", types.STRING)
	tbl.AddFieldColumn("axes", types.JSON)
	tbl.AddFieldColumn("event_id", types.STRING)
	tbl.AddFieldColumn("violation", types.STRING)
	tbl.AddFieldColumn("commanded", types.FLOAT64)
	tbl.AddFieldColumn("limit", types.FLOAT64)
	tbl.AddFieldColumn("port", types.STRING)
	tbl.AddFieldColumn("reason", types.STRING)
	tbl.AddFieldColumn("sim_time", types.FLOAT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	for _, r := range rows {
		axes := r.Axes
		if axes == nil {
			axes = []string{}
		}
		data, err := json.Marshal(axes)
		if err != nil {
			return err
		}
		if err := tbl.AddRow(r.SessionID, r.EventType, string(data), r.EventID, r.Violation, r.Commanded, r.Limit,
			r.Port, r.Reason, r.SimTime, r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(tbl)
}

func (w *GreptimeDBWriter) write(tables ...*table.Table) error {
	ctx, cancel := context.WithTimeout(context.Background(), greptimeWriteTimeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tables...); err != nil {
		return fmt.Errorf("greptime write: %w", err)
	}
	return nil
}
