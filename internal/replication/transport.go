package replication

import (
	"fmt"

	"github.com/go-mysql-org/go-mysql/client"
	"github.com/go-mysql-org/go-mysql/mysql"
)

// Transport is an authenticated client connection that can exchange raw
// command packets. *client.Conn satisfies it.
type Transport interface {
	ResetSequence()
	// WritePacket sends data, whose first 4 bytes are reserved for the packet header
	WritePacket(data []byte) error
	ReadPacket() ([]byte, error)
	ReadOKPacket() (*mysql.Result, error)
	HandleErrorPacket(data []byte) error
	Execute(command string, args ...interface{}) (*mysql.Result, error)
	Close() error
}

var _ Transport = (*client.Conn)(nil)

// Dial opens and authenticates the replication connection
func Dial(host string, port int, user, password string) (*client.Conn, error) {
	conn, err := client.Connect(fmt.Sprintf("%s:%d", host, port), user, password, "")
	if err != nil {
		return nil, fmt.Errorf("failed to connect for replication: %w", err)
	}
	return conn, nil
}

// writeCommand sends a command payload as a new command phase
func writeCommand(t Transport, payload []byte) error {
	t.ResetSequence()
	data := make([]byte, 4, 4+len(payload))
	return t.WritePacket(append(data, payload...))
}
