// Package wal persists the reducer's inputs and outputs: every state change
// is appended to a durable log before it is applied, and snapshots of the
// node state bound the length of a replay. Snapshot plus log tail is the
// complete recovery story; replaying the same changes against the same
// snapshot reproduces the exact node state, including the generator words
// and therefore every message identifier.
package wal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-errors/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/meshpay/meshd/transfer"
)

const (
	dbName           = "wal.db"
	dbFilePermission = 0600

	// walSchemaVersion is stamped into a fresh database and checked on
	// every open. The log format is append-only gob records; there is no
	// in-place migration story, so an unknown stamp refuses to open
	// rather than guessing at the layout.
	walSchemaVersion uint32 = 1
)

var (
	// Big endian is the preferred byte order, due to cursor scans over
	// integer keys iterating in order.
	byteOrder = binary.BigEndian

	// stateChangeBucket holds the log itself: sequence number to encoded
	// state change.
	stateChangeBucket = []byte("state-changes")

	// snapshotBucket holds encoded node states keyed by the sequence
	// number of the last state change they include.
	snapshotBucket = []byte("snapshots")

	// metaBucket holds the schema version stamp.
	metaBucket = []byte("metadata")

	metaVersionKey = []byte("version")
)

// DB is the bolt-backed store underneath the write-ahead log.
type DB struct {
	*bolt.DB
	dbPath string
}

// Open opens the wal database under the given directory, creating directory,
// database and buckets on first use, and refuses databases written by an
// incompatible schema.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, err
	}

	bdb, err := bolt.Open(filepath.Join(dbPath, dbName), dbFilePermission, nil)
	if err != nil {
		return nil, err
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		if err := createBuckets(tx); err != nil {
			return err
		}
		return stampSchemaVersion(tx)
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &DB{
		DB:     bdb,
		dbPath: dbPath,
	}, nil
}

// Wipe drops the log and every snapshot, leaving an empty but usable
// database. The deletion is done in a single transaction, therefore this
// operation is fully atomic.
func (d *DB) Wipe() error {
	return d.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{stateChangeBucket, snapshotBucket} {
			err := tx.DeleteBucket(bucket)
			if err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
		}

		return createBuckets(tx)
	})
}

// Version returns the schema version the database was created with.
func (d *DB) Version() (uint32, error) {
	var schemaVersion uint32

	err := d.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(metaBucket)
		if bucket == nil {
			return ErrMetaNotFound
		}

		data := bucket.Get(metaVersionKey)
		if data == nil {
			return ErrMetaNotFound
		}

		schemaVersion = byteOrder.Uint32(data)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return schemaVersion, nil
}

func createBuckets(tx *bolt.Tx) error {
	for _, bucket := range [][]byte{stateChangeBucket, snapshotBucket, metaBucket} {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}

// stampSchemaVersion writes the version into a fresh database and verifies
// it on an existing one.
func stampSchemaVersion(tx *bolt.Tx) error {
	bucket := tx.Bucket(metaBucket)

	data := bucket.Get(metaVersionKey)
	if data == nil {
		var stamp [4]byte
		byteOrder.PutUint32(stamp[:], walSchemaVersion)
		return bucket.Put(metaVersionKey, stamp[:])
	}

	if stored := byteOrder.Uint32(data); stored != walSchemaVersion {
		return errors.Errorf("wal schema version %d is not supported, "+
			"this build writes version %d", stored, walSchemaVersion)
	}

	return nil
}

// AppendStateChange durably logs one state change and returns its sequence
// number. The caller applies the change to the reducer only after this
// returns.
func (d *DB) AppendStateChange(stateChange transfer.StateChange) (uint64, error) {
	data, err := encodeStateChange(stateChange)
	if err != nil {
		return 0, err
	}

	var sequence uint64
	err = d.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(stateChangeBucket)
		if bucket == nil {
			return ErrNoWalDBExists
		}

		sequence, err = bucket.NextSequence()
		if err != nil {
			return err
		}

		var key [8]byte
		byteOrder.PutUint64(key[:], sequence)
		return bucket.Put(key[:], data)
	})
	if err != nil {
		return 0, err
	}

	return sequence, nil
}

// StateChangesSince returns every logged state change with a sequence number
// strictly greater than the given one, in log order.
func (d *DB) StateChangesSince(sequence uint64) ([]transfer.StateChange, uint64, error) {
	var (
		stateChanges []transfer.StateChange
		lastSequence = sequence
	)

	err := d.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(stateChangeBucket)
		if bucket == nil {
			return ErrNoWalDBExists
		}

		var since [8]byte
		byteOrder.PutUint64(since[:], sequence+1)

		cursor := bucket.Cursor()
		for k, v := cursor.Seek(since[:]); k != nil; k, v = cursor.Next() {
			stateChange, err := decodeStateChange(v)
			if err != nil {
				return err
			}

			stateChanges = append(stateChanges, stateChange)
			lastSequence = byteOrder.Uint64(k)
		}

		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return stateChanges, lastSequence, nil
}

// PutSnapshot stores the node state as of the given log sequence number and
// prunes the log prefix the snapshot covers.
func (d *DB) PutSnapshot(sequence uint64, nodeState *transfer.NodeState) error {
	data, err := encodeNodeState(nodeState)
	if err != nil {
		return err
	}

	return d.Update(func(tx *bolt.Tx) error {
		snapshots := tx.Bucket(snapshotBucket)
		if snapshots == nil {
			return ErrNoWalDBExists
		}

		var key [8]byte
		byteOrder.PutUint64(key[:], sequence)
		if err := snapshots.Put(key[:], data); err != nil {
			return err
		}

		// The log below the snapshot can never be replayed again.
		stateChanges := tx.Bucket(stateChangeBucket)
		if stateChanges == nil {
			return ErrNoWalDBExists
		}

		cursor := stateChanges.Cursor()
		for k, _ := cursor.First(); k != nil && byteOrder.Uint64(k) <= sequence; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}

		return nil
	})
}

// FetchLatestSnapshot returns the most recent snapshot and the sequence
// number it covers, or ErrNoSnapshot.
func (d *DB) FetchLatestSnapshot() (*transfer.NodeState, uint64, error) {
	var (
		nodeState *transfer.NodeState
		sequence  uint64
	)

	err := d.View(func(tx *bolt.Tx) error {
		snapshots := tx.Bucket(snapshotBucket)
		if snapshots == nil {
			return ErrNoWalDBExists
		}

		k, v := snapshots.Cursor().Last()
		if k == nil {
			return ErrNoSnapshot
		}

		decoded, err := decodeNodeState(v)
		if err != nil {
			return err
		}

		nodeState = decoded
		sequence = byteOrder.Uint64(k)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return nodeState, sequence, nil
}

// The log stores gob payloads: every state change, event and state type is
// registered with gob by its defining package.

func encodeStateChange(stateChange transfer.StateChange) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&stateChange); err != nil {
		return nil, errors.Errorf("unable to encode state change: %v", err)
	}
	return buf.Bytes(), nil
}

func decodeStateChange(data []byte) (transfer.StateChange, error) {
	var stateChange transfer.StateChange
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&stateChange); err != nil {
		return nil, errors.Errorf("unable to decode state change: %v", err)
	}
	return stateChange, nil
}

func encodeNodeState(nodeState *transfer.NodeState) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(nodeState); err != nil {
		return nil, errors.Errorf("unable to encode node state: %v", err)
	}
	return buf.Bytes(), nil
}

func decodeNodeState(data []byte) (*transfer.NodeState, error) {
	nodeState := &transfer.NodeState{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(nodeState); err != nil {
		return nil, errors.Errorf("unable to decode node state: %v", err)
	}

	ensureContainers(nodeState)
	return nodeState, nil
}

// ensureContainers re-creates containers that were empty at snapshot time.
// Gob transmits empty maps as absent, but the reducer relies on every
// container of the tree being non-nil. Gob also decodes every map value on
// its own, so the token-address and partner indexes come back holding
// copies; they are pointed back at the objects of the identifier indexes.
func ensureContainers(nodeState *transfer.NodeState) {
	if nodeState.IdentifiersToPaymentNetworks == nil {
		nodeState.IdentifiersToPaymentNetworks = make(map[common.Address]*transfer.PaymentNetworkState)
	}
	if nodeState.NodeAddressesToNetworkStates == nil {
		nodeState.NodeAddressesToNetworkStates = make(map[common.Address]transfer.NetworkState)
	}
	if nodeState.PaymentMapping.SecretHashesToTask == nil {
		nodeState.PaymentMapping.SecretHashesToTask = make(map[common.Hash]transfer.Task)
	}
	if nodeState.QueueIDsToQueues == nil {
		nodeState.QueueIDsToQueues = make(map[transfer.QueueID][]transfer.SendMessageEvent)
	}

	for _, paymentNetwork := range nodeState.IdentifiersToPaymentNetworks {
		if paymentNetwork.TokenIdentifiersToTokenNetworks == nil {
			paymentNetwork.TokenIdentifiersToTokenNetworks = make(map[common.Address]*transfer.TokenNetworkState)
		}
		if paymentNetwork.TokenAddressesToTokenNetworks == nil {
			paymentNetwork.TokenAddressesToTokenNetworks = make(map[common.Address]*transfer.TokenNetworkState)
		}

		for _, tokenNetwork := range paymentNetwork.TokenIdentifiersToTokenNetworks {
			if tokenNetwork.ChannelIdentifiersToChannels == nil {
				tokenNetwork.ChannelIdentifiersToChannels = make(map[common.Address]*transfer.ChannelState)
			}
			if tokenNetwork.PartnerAddressesToChannels == nil {
				tokenNetwork.PartnerAddressesToChannels = make(map[common.Address]*transfer.ChannelState)
			}
			for _, channelState := range tokenNetwork.ChannelIdentifiersToChannels {
				tokenNetwork.PartnerAddressesToChannels[channelState.PartnerState.Address] = channelState
			}

			paymentNetwork.TokenAddressesToTokenNetworks[tokenNetwork.TokenAddress] = tokenNetwork
		}
	}
}
