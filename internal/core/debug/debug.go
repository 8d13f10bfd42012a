package debug

import (
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/tftp/internal/packets"
)

// StartUtilities spins off the services associated with debug mode.
func StartUtilities(logger *logrus.Logger, pprofPort int) {
	startPprofServer(logger, pprofPort)
}

// This function starts the default pprof HTTP server that can be accessed via localhost
// to get runtime information about the server. See https://golang.org/pkg/net/http/pprof/
func startPprofServer(logger *logrus.Logger, port int) {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting pprof server on %s", listenerAddr)

	go func() {
		if err := http.ListenAndServe(listenerAddr, nil); err != nil {
			logger.Infof("error starting pprof server: %s", err)
		}
	}()
}

type PrintPacketParams struct {
	Writer       io.Writer
	ConnectionID int64
	ClientPacket bool
	Data         []byte
}

var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// PrintPacket writes a human readable dump of a single frame: a summary line,
// the decoded packet (if it parses), and a hex dump of the raw bytes.
func PrintPacket(params PrintPacketParams) {
	direction := "server->client"
	if params.ClientPacket {
		direction = "client->server"
	}

	opcode := packets.OpcodeOf(params.Data)
	fmt.Fprintf(params.Writer, "[%d] %s %s (%d bytes)\n", params.ConnectionID, direction, opcode, len(params.Data))

	if pkt, err := packets.Parse(params.Data); err == nil {
		dumper.Fdump(params.Writer, pkt)
	} else {
		fmt.Fprintf(params.Writer, "unparseable packet: %v\n", err)
	}
	fmt.Fprint(params.Writer, spew.Sdump(params.Data))
}
