package binlog

import (
	"encoding/binary"

	"github.com/go-mysql-org/go-mysql/mysql"
)

// BinlogDump flags
const (
	DumpNeverStop   uint16 = 0x00
	DumpNonBlocking uint16 = 0x01
)

// RegisterReplica is the COM_REGISTER_SLAVE command
type RegisterReplica struct {
	ServerID uint32
	Hostname string
	User     string
	Password string
	Port     uint16
	Rank     uint32
	MasterID uint32
}

// Encode returns the command payload, starting with the command byte.
func (r RegisterReplica) Encode() []byte {
	buf := make([]byte, 0, 18+len(r.Hostname)+len(r.User)+len(r.Password))
	buf = append(buf, mysql.COM_REGISTER_SLAVE)
	buf = binary.LittleEndian.AppendUint32(buf, r.ServerID)
	buf = appendCountedString(buf, r.Hostname)
	buf = appendCountedString(buf, r.User)
	buf = appendCountedString(buf, r.Password)
	buf = binary.LittleEndian.AppendUint16(buf, r.Port)
	buf = binary.LittleEndian.AppendUint32(buf, r.Rank)
	buf = binary.LittleEndian.AppendUint32(buf, r.MasterID)
	return buf
}

// BinlogDump is the COM_BINLOG_DUMP command
type BinlogDump struct {
	Position uint32
	Flags    uint16
	ServerID uint32
	Filename string
}

// Encode returns the command payload, starting with the command byte.
func (d BinlogDump) Encode() []byte {
	buf := make([]byte, 0, 11+len(d.Filename))
	buf = append(buf, mysql.COM_BINLOG_DUMP)
	buf = binary.LittleEndian.AppendUint32(buf, d.Position)
	buf = binary.LittleEndian.AppendUint16(buf, d.Flags)
	buf = binary.LittleEndian.AppendUint32(buf, d.ServerID)
	buf = append(buf, d.Filename...)
	return buf
}

func appendCountedString(buf []byte, s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}
