// Package monitoring turns a running relay into a small HTTP server that
// reports slot states, registered endpoints, process resources, and CPU
// profiles.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/relaylink/relaylink/bridge"
)

// Monitor serves the live state of a relay over HTTP.
type Monitor struct {
	router     *bridge.Router
	ports      []bridge.Port
	portNumber int
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the TCP port of the monitoring server.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterRouter registers the router whose slots are reported.
func (m *Monitor) RegisterRouter(r *bridge.Router) {
	m.router = r
}

// RegisterPort registers a transport endpoint to be listed.
func (m *Monitor) RegisterPort(p bridge.Port) {
	m.ports = append(m.ports, p)
}

// StartServer starts the monitor as a web server, on the configured port if
// one is set.
func (m *Monitor) StartServer() string {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", m.status)
	r.HandleFunc("/api/ports", m.listPorts)
	r.HandleFunc("/api/component/{name}", m.componentDetails)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring relay with %s\n", url)

	go func() {
		err = http.Serve(listener, r)
		dieOnErr(err)
	}()

	return url
}

type slotRsp struct {
	Initiator string `json:"initiator"`
	Occupied  bool   `json:"occupied"`
	Since     string `json:"since,omitempty"`
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	statuses := m.router.Snapshot()

	rsp := make([]slotRsp, 0, len(statuses))
	for _, s := range statuses {
		entry := slotRsp{
			Initiator: s.Initiator.String(),
			Occupied:  s.Occupied,
		}
		if s.Occupied {
			entry.Since = s.Since.Format(time.RFC3339Nano)
		}

		rsp = append(rsp, entry)
	}

	writeJSON(w, rsp)
}

type portRsp struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (m *Monitor) listPorts(w http.ResponseWriter, _ *http.Request) {
	rsp := make([]portRsp, 0, len(m.ports))
	for _, p := range m.ports {
		rsp = append(rsp, portRsp{ID: p.ID().String(), Name: p.Name()})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) componentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) any {
	if m.router != nil && m.router.Name() == name {
		return m.router
	}

	for _, p := range m.ports {
		if p.Name() == name {
			return p
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Component not found"))
	dieOnErr(err)

	return nil
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memoryInfo, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
