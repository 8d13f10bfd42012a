package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dcrodman/tftp/internal/packets"
)

func TestRecordConnect(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordConnect()
	m.RecordConnect()
	m.RecordDisconnect()

	if got := testutil.ToFloat64(m.ConnectionsActive); got != 1 {
		t.Errorf("ConnectionsActive = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsTotal); got != 2 {
		t.Errorf("ConnectionsTotal = %v, want 2", got)
	}
}

func TestRecordPacketSent(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordPacketSent(&packets.Ack{Block: 0})
	m.RecordPacketSent(packets.NewError(packets.ErrFileExists))
	m.RecordPacketSent(packets.NewError(packets.ErrFileExists))

	if got := testutil.ToFloat64(m.PacketsSent.WithLabelValues("ACK")); got != 1 {
		t.Errorf("ACK packets sent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PacketsSent.WithLabelValues("ERROR")); got != 2 {
		t.Errorf("ERROR packets sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ErrorsSent.WithLabelValues("5")); got != 2 {
		t.Errorf("code 5 errors sent = %v, want 2", got)
	}
}

func TestRecordTransfers(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordUpload(1300)
	m.RecordDownload(512)
	m.RecordDownload(10)
	m.RecordBroadcast(packets.BroadcastAdded)

	if got := testutil.ToFloat64(m.BytesUploaded); got != 1300 {
		t.Errorf("BytesUploaded = %v, want 1300", got)
	}
	if got := testutil.ToFloat64(m.BytesDownloaded); got != 522 {
		t.Errorf("BytesDownloaded = %v, want 522", got)
	}
	if got := testutil.ToFloat64(m.TransfersTotal.WithLabelValues("download")); got != 2 {
		t.Errorf("download transfers = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Broadcasts.WithLabelValues("add")); got != 1 {
		t.Errorf("add broadcasts = %v, want 1", got)
	}
}
