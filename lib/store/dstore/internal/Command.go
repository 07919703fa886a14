package internal

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTInsert        CommandType = iota // Insert a record if its key is free.
	CommandTUpdate                           // Compare-and-set a record on its id.
	CommandTDelete                           // Delete a record if it matches a condition.
	CommandTDeleteByOwner                    // Delete all records of an owner.
	CommandTDeleteExpired                    // Delete all records expired at an instant.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTInsert:
		return "Insert"
	case CommandTUpdate:
		return "Update"
	case CommandTDelete:
		return "Delete"
	case CommandTDeleteByOwner:
		return "DeleteByOwner"
	case CommandTDeleteExpired:
		return "DeleteExpired"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command represents a command to be executed by the state machine (a single entry in the raft log).
//
// Every timestamp the state machine compares against travels inside the command,
// so all replicas apply it the same way no matter when they do.
// Record is used per type:
//
//	Insert:        the full record
//	Update:        Key and ID select the record, OwnerDisplay, Mode, AcquiredAt, ExpiresAt are the new values
//	Delete:        Key selects the record, ID and OwnerID are conditions (empty = unchecked)
//	DeleteByOwner: OwnerID
//	DeleteExpired: unused
type Command struct {
	Type   CommandType
	At     time.Time // Delete: the record must be expired at At (zero = unchecked). DeleteExpired: the sweep instant.
	Record db.Record
}

// NewInsertCommand builds the command for store.InsertIfAbsent
func NewInsertCommand(rec db.Record) Command {
	return Command{Type: CommandTInsert, Record: rec}
}

// NewUpdateCommand builds the command for store.UpdateInPlace
func NewUpdateCommand(key db.Key, recordID string, upd db.Update) Command {
	return Command{
		Type:   CommandTUpdate,
		Record: upd.Apply(db.Record{ID: recordID, Key: key}),
	}
}

// NewDeleteCommand builds the command for store.DeleteByKey
func NewDeleteCommand(key db.Key, cond db.Condition) Command {
	return Command{
		Type:   CommandTDelete,
		At:     cond.ExpiredAt,
		Record: db.Record{Key: key, ID: cond.RecordID, OwnerID: cond.OwnerID},
	}
}

// NewDeleteByOwnerCommand builds the command for store.DeleteByOwner
func NewDeleteByOwnerCommand(ownerID string) Command {
	return Command{Type: CommandTDeleteByOwner, Record: db.Record{OwnerID: ownerID}}
}

// NewDeleteExpiredCommand builds the command for store.DeleteExpiredBefore
func NewDeleteExpiredCommand(at time.Time) Command {
	return Command{Type: CommandTDeleteExpired, At: at}
}

// Update returns the update carried by an Update command
func (command *Command) Update() db.Update {
	return db.Update{
		OwnerDisplay: command.Record.OwnerDisplay,
		Mode:         command.Record.Mode,
		AcquiredAt:   command.Record.AcquiredAt,
		ExpiresAt:    command.Record.ExpiresAt,
	}
}

// Condition returns the condition carried by a Delete command
func (command *Command) Condition() db.Condition {
	return db.Condition{
		RecordID:  command.Record.ID,
		OwnerID:   command.Record.OwnerID,
		ExpiredAt: command.At,
	}
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return 1 + 8 + command.Record.SizeBytes() // Type + At + Record
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for At (unix nanos, big endian, 0 = zero time),
// N bytes for the record (db.Record binary encoding)
func (command *Command) Serialize() []byte {
	result := make([]byte, 9, command.SizeBytes())

	// Set operation type
	result[0] = byte(command.Type)

	// Set instant
	binary.BigEndian.PutUint64(result[1:9], uint64(db.EncodeTime(command.At)))

	// Append record (the record encoding never fails)
	rec, _ := command.Record.MarshalBinary()
	return append(result, rec...)
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	// Minimum size: 1 (Type) + 8 (At)
	if len(data) < 9 {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.At = db.DecodeTime(int64(binary.BigEndian.Uint64(data[1:9])))

	command.Record = db.Record{}
	if err := command.Record.UnmarshalBinary(data[9:]); err != nil {
		return fmt.Errorf("invalid record in command: %w", err)
	}
	return nil
}
