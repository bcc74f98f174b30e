package sim

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/skycoin/relchan/pkg/channel"
	"github.com/skycoin/relchan/pkg/connection"
	"github.com/skycoin/relchan/pkg/netsim"
)

// ChannelReport sums what happened on one channel, in both directions.
type ChannelReport struct {
	Name      string            `json:"name"`
	Mode      channel.Mode      `json:"mode"`
	Direction channel.Direction `json:"direction"`

	Sent           int `json:"sent"`
	SendErrors     int `json:"send_errors"`
	Delivered      int `json:"delivered"`
	Duplicates     int `json:"duplicates"`
	OutOfOrder     int `json:"out_of_order"`
	TickMismatches int `json:"tick_mismatches"`
	Corrupted      int `json:"corrupted"`
	Outstanding    int `json:"outstanding"`
}

// Check returns the guarantees of the channel's mode that did not hold.
func (cr ChannelReport) Check() []string {
	var failed []string
	if cr.Corrupted > 0 {
		failed = append(failed, fmt.Sprintf("%d corrupted", cr.Corrupted))
	}

	switch cr.Mode {
	case channel.UnorderedReliable, channel.OrderedReliable:
		if cr.Delivered != cr.Sent {
			failed = append(failed, fmt.Sprintf("delivered %d of %d", cr.Delivered, cr.Sent))
		}
	}
	switch cr.Mode {
	case channel.SequencedUnreliable, channel.SequencedReliable, channel.OrderedReliable:
		if cr.OutOfOrder > 0 {
			failed = append(failed, fmt.Sprintf("%d out of order", cr.OutOfOrder))
		}
	}
	if cr.Mode != channel.UnorderedUnreliable && cr.Mode != channel.TickBuffered && cr.Duplicates > 0 {
		failed = append(failed, fmt.Sprintf("%d duplicates", cr.Duplicates))
	}
	if cr.TickMismatches > 0 {
		failed = append(failed, fmt.Sprintf("%d on the wrong tick", cr.TickMismatches))
	}
	return failed
}

// Report is the outcome of a Run.
type Report struct {
	ServerID    uuid.UUID `json:"server_id"`
	ClientID    uuid.UUID `json:"client_id"`
	Fingerprint string    `json:"registry_fingerprint"`
	Ticks       int       `json:"ticks"`

	Channels []ChannelReport `json:"channels"`

	Server   connection.Stats `json:"server"`
	Client   connection.Stats `json:"client"`
	Uplink   netsim.LinkStats `json:"uplink"`
	Downlink netsim.LinkStats `json:"downlink"`
}

// Check returns an error naming every channel whose guarantees did not hold.
func (r *Report) Check() error {
	var failed []string
	for _, cr := range r.Channels {
		if f := cr.Check(); len(f) > 0 {
			failed = append(failed, fmt.Sprintf("%s (%s): %s", cr.Name, cr.Mode, strings.Join(f, ", ")))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("channel guarantees violated: %s", strings.Join(failed, "; "))
}

// Write prints the report as tables.
func (r *Report) Write(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.TabIndent)
	fmt.Fprintf(w, "server\t%s\nclient\t%s\nregistry\t%s\nticks\t%d\n\n", r.ServerID, r.ClientID, r.Fingerprint, r.Ticks)

	fmt.Fprintln(w, "CHANNEL\tMODE\tDIRECTION\tSENT\tDELIVERED\tDUPS\tOUT OF ORDER\tOUTSTANDING\tSTATUS")
	for _, cr := range r.Channels {
		status := "ok"
		if f := cr.Check(); len(f) > 0 {
			status = strings.Join(f, ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			cr.Name, cr.Mode, cr.Direction, cr.Sent, cr.Delivered, cr.Duplicates, cr.OutOfOrder, cr.Outstanding, status)
	}

	fmt.Fprintln(w, "\nSIDE\tPACKETS SENT\tPACKETS RECV\tBYTES SENT\tUNITS SENT\tACKS SENT\tDROPPED")
	for _, side := range []struct {
		name string
		st   connection.Stats
	}{{"server", r.Server}, {"client", r.Client}} {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", side.name, side.st.PacketsSent, side.st.PacketsReceived,
			side.st.BytesSent, side.st.UnitsSent, side.st.AcksSent, side.st.Dropped)
	}

	fmt.Fprintln(w, "\nLINK\tSENT\tLOST\tDUPLICATED\tDELIVERED")
	fmt.Fprintf(w, "uplink\t%d\t%d\t%d\t%d\n", r.Uplink.Sent, r.Uplink.Dropped, r.Uplink.Duplicated, r.Uplink.Delivered)
	fmt.Fprintf(w, "downlink\t%d\t%d\t%d\t%d\n", r.Downlink.Sent, r.Downlink.Dropped, r.Downlink.Duplicated, r.Downlink.Delivered)
	return w.Flush()
}
