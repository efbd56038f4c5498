package bus

import (
	"fmt"
	"time"

	server "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"
)

// Server is an in-process NATS server used when no external NATS_URL is
// configured. It keeps no state on disk.
type Server struct{ ns *server.Server }

func NewServer() (*Server, error) {
	ns, err := server.NewServer(&server.Options{
		DontListen: true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, err
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("NATS server not ready")
	}
	return &Server{ns: ns}, nil
}

func (s *Server) Connect() (*nats.Conn, error) {
	return nats.Connect(s.ns.ClientURL(), nats.InProcessServer(s.ns))
}

func (s *Server) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}

// Dial connects to an external NATS server.
func Dial(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("dashctl"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}
