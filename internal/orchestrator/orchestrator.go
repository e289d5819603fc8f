// Package orchestrator implements the write/read/delete/truncate
// operations that tie the chunker, cipher, erasure codec, chunk cache,
// metadata store and account pool together, per spec.md §4.10. Wiring
// style (constructing dependencies into one struct with a logger
// passed down) follows the teacher's internal/api.Handler.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mvance/tgfs/internal/apperrors"
	"github.com/mvance/tgfs/internal/audit"
	"github.com/mvance/tgfs/internal/cache"
	"github.com/mvance/tgfs/internal/chunk"
	"github.com/mvance/tgfs/internal/cipher"
	"github.com/mvance/tgfs/internal/ckdf"
	"github.com/mvance/tgfs/internal/erasure"
	"github.com/mvance/tgfs/internal/metadata"
	"github.com/mvance/tgfs/internal/pool"
	"github.com/mvance/tgfs/internal/stripe"
)

// ChunkerOptions controls the compression and dedup behavior of the
// write path, mirroring spec.md's chunker option set
// (compression_enabled/compression_threshold/dedup_enabled).
type ChunkerOptions struct {
	CompressionEnabled   bool
	CompressionLevel     int
	CompressionThreshold uint32
	DedupEnabled         bool
}

// defaultChunkerOptions preserves the orchestrator's original
// behavior for callers that never call SetChunkerOptions: compression
// always attempted, no minimum-size skip, dedup always checked.
var defaultChunkerOptions = ChunkerOptions{CompressionEnabled: true, DedupEnabled: true}

// Orchestrator serializes writes per-inode (one mutex per inode, held in inodeLocks)
// and drives the write/read pipeline: chunk -> dedup-check -> compress
// -> encrypt -> erasure-encode -> upload -> manifest publish, and its
// mirror image for reads.
type Orchestrator struct {
	master      *ckdf.MasterKey
	meta        *metadata.Store
	cache       *cache.ChunkCache
	pool        *pool.Pool
	codec       *erasure.Codec
	log         *logrus.Logger
	audit       audit.Logger
	chunkerOpts ChunkerOptions

	inodeLocks sync.Map // ino -> *sync.Mutex
}

// New constructs an Orchestrator. codec must use the same K/N as pool.
func New(master *ckdf.MasterKey, meta *metadata.Store, chunkCache *cache.ChunkCache, p *pool.Pool, codec *erasure.Codec, log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.New()
	}
	return &Orchestrator{master: master, meta: meta, cache: chunkCache, pool: p, codec: codec, log: log, chunkerOpts: defaultChunkerOptions}
}

// SetAuditLogger attaches an audit logger that records chunk
// encrypt/decrypt/upload/delete events. Audit logging is skipped
// entirely when no logger has been attached.
func (o *Orchestrator) SetAuditLogger(l audit.Logger) {
	o.audit = l
}

// SetChunkerOptions overrides the compression/dedup behavior of the
// write path.
func (o *Orchestrator) SetChunkerOptions(opts ChunkerOptions) {
	o.chunkerOpts = opts
}

func (o *Orchestrator) lockFor(ino uint64) *sync.Mutex {
	v, _ := o.inodeLocks.LoadOrStore(ino, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Write splits data into chunks, compresses and encrypts each, skips
// upload for chunks already referenced in the metadata store
// (content-addressed dedup), erasure-encodes and uploads new chunks,
// and once every chunk has landed atomically replaces ino's manifest
// pointer with the newly built manifest (version bumped), persisting
// the updated inode so the write survives a restart.
func (o *Orchestrator) Write(ctx context.Context, ino uint64, data []byte, chunkSize uint32) (*chunk.Manifest, error) {
	lock := o.lockFor(ino)
	lock.Lock()
	defer lock.Unlock()

	in, err := o.getOrCreateInode(ino)
	if err != nil {
		return nil, err
	}

	version := uint32(1)
	if in.ManifestID != "" {
		if prev, err := o.loadManifestByID(in.ManifestID); err == nil {
			version = prev.Version + 1
		}
	}

	slices := chunk.Split(data, chunkSize)
	manifest := &chunk.Manifest{Version: version, TotalSize: uint64(len(data)), FileHash: chunk.ComputeFileHash(data)}

	for _, s := range slices {
		ref, err := o.writeChunk(ctx, s.Offset, s.Data)
		if err != nil {
			return nil, err
		}
		manifest.Chunks = append(manifest.Chunks, ref)
	}

	if err := o.publishManifest(in, manifest); err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{"ino": ino, "chunks": len(manifest.Chunks), "bytes": len(data)}).Info("write complete")
	return manifest, nil
}

// getOrCreateInode loads ino's inode, or synthesizes a fresh regular-
// file inode if none exists yet (the orchestrator has no mkdir/create
// front-end of its own; it is handed a bare inode number and is
// responsible for giving it a row the first time it is written).
func (o *Orchestrator) getOrCreateInode(ino uint64) (*metadata.Inode, error) {
	in, err := o.meta.GetInode(ino)
	if err == nil {
		return in, nil
	}
	if !apperrors.Is(err, apperrors.KindInodeNotFound) {
		return nil, err
	}
	now := time.Now()
	return &metadata.Inode{Ino: ino, ParentIno: ino, Mode: 0o644, Nlink: 1, Mtime: now, Ctime: now}, nil
}

// manifestKey namespaces a manifest's content-addressed id within the
// metadata store's generic key/value bucket.
func manifestKey(manifestID string) string { return "manifest:" + manifestID }

// publishManifest persists manifest under a content-addressed key and
// replaces in's manifest pointer, bumping its size and mtime, per
// spec.md §4.10's write-completion step.
func (o *Orchestrator) publishManifest(in *metadata.Inode, manifest *chunk.Manifest) error {
	encoded, err := chunk.MarshalManifest(manifest)
	if err != nil {
		return err
	}
	manifestID := chunk.ComputeID(encoded).String()
	if err := o.meta.SaveMetadata(manifestKey(manifestID), encoded); err != nil {
		return err
	}

	in.ManifestID = manifestID
	in.Size = manifest.TotalSize
	in.Mtime = time.Now()
	return o.meta.SaveInode(in)
}

// loadManifestByID reads back a manifest previously stored by
// publishManifest.
func (o *Orchestrator) loadManifestByID(manifestID string) (*chunk.Manifest, error) {
	encoded, found, err := o.meta.GetMetadata(manifestKey(manifestID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.New(apperrors.KindChunkNotFound, "manifest not found")
	}
	return chunk.UnmarshalManifest(encoded)
}

// LoadManifest returns ino's currently published manifest, resolving
// it through the inode's ManifestID pointer.
func (o *Orchestrator) LoadManifest(ino uint64) (*chunk.Manifest, error) {
	in, err := o.meta.GetInode(ino)
	if err != nil {
		return nil, err
	}
	if in.ManifestID == "" {
		return nil, apperrors.New(apperrors.KindChunkNotFound, "inode has no manifest")
	}
	return o.loadManifestByID(in.ManifestID)
}

func (o *Orchestrator) writeChunk(ctx context.Context, offset uint64, plaintext []byte) (chunk.Ref, error) {
	var compressed []byte
	var shrank bool
	if o.chunkerOpts.CompressionEnabled {
		var err error
		compressed, shrank, err = chunk.CompressIfSmaller(plaintext, o.chunkerOpts.CompressionLevel, o.chunkerOpts.CompressionThreshold)
		if err != nil {
			return chunk.Ref{}, err
		}
	} else {
		compressed = plaintext
	}

	id := chunk.ComputeID(compressed)

	if o.chunkerOpts.DedupEnabled {
		if _, found, err := o.meta.GetChunkRef(id.String()); err != nil {
			return chunk.Ref{}, err
		} else if found {
			// Dedup hit: bump the refcount, skip re-encrypting/uploading.
			if err := o.meta.SaveChunkRef(id.String(), ""); err != nil {
				return chunk.Ref{}, err
			}
			return chunk.Ref{ID: id, Offset: offset, OriginalSize: uint32(len(plaintext)), CompressedSize: uint32(len(compressed)), Compressed: shrank}, nil
		}
	}

	start := time.Now()
	chunkKey, err := o.master.ChunkKey(id.Bytes())
	if err != nil {
		return chunk.Ref{}, err
	}
	aead, err := cipher.New(chunkKey)
	if err != nil {
		return chunk.Ref{}, err
	}
	sealed, err := aead.Seal(compressed, id.Bytes())
	o.logEncrypt(id.String(), err, time.Since(start))
	if err != nil {
		return chunk.Ref{}, err
	}
	wire := sealed.ToBytes()

	shards, err := o.codec.Encode(wire)
	if err != nil {
		return chunk.Ref{}, err
	}

	uploadStart := time.Now()
	info, err := o.pool.UploadStripe(ctx, shards, fmt.Sprintf("chunks/%s", id.String()))
	o.logUpload(id.String(), info, err, time.Since(uploadStart))
	if err != nil {
		return chunk.Ref{}, err
	}

	if err := o.cache.Put(id.String(), wire); err != nil {
		o.log.WithError(err).Warn("failed to populate chunk cache after upload")
	}

	stripeRef := encodeStripeRef(info)
	if err := o.meta.SaveChunkRef(id.String(), stripeRef); err != nil {
		return chunk.Ref{}, err
	}

	return chunk.Ref{ID: id, Offset: offset, OriginalSize: uint32(len(plaintext)), CompressedSize: uint32(len(compressed)), Compressed: shrank}, nil
}

func (o *Orchestrator) logEncrypt(chunkID string, err error, d time.Duration) {
	if o.audit == nil {
		return
	}
	if logErr := o.audit.LogChunkEncrypt(chunkID, err == nil, err, d, nil); logErr != nil {
		o.log.WithError(logErr).Warn("failed to record audit event")
	}
}

func (o *Orchestrator) logDecrypt(chunkID string, err error, d time.Duration) {
	if o.audit == nil {
		return
	}
	if logErr := o.audit.LogChunkDecrypt(chunkID, err == nil, err, d, nil); logErr != nil {
		o.log.WithError(logErr).Warn("failed to record audit event")
	}
}

func (o *Orchestrator) logUpload(chunkID string, info stripe.Info, err error, d time.Duration) {
	if o.audit == nil {
		return
	}
	accountID := ""
	if len(info.Blocks) > 0 {
		accountID = fmt.Sprintf("%d", info.Blocks[0].AccountID)
	}
	if logErr := o.audit.LogChunkUpload(chunkID, accountID, err == nil, err, d); logErr != nil {
		o.log.WithError(logErr).Warn("failed to record audit event")
	}
}

// Read resolves [offset, offset+length) against manifest, fetching
// each covering chunk from cache or, on a miss, from the account pool,
// then decrypts, decompresses and slices out the requested range.
func (o *Orchestrator) Read(ctx context.Context, manifest *chunk.Manifest, offset, length uint64) ([]byte, error) {
	if offset+length > manifest.TotalSize {
		return nil, apperrors.New(apperrors.KindInvalidChunkSize, "requested range exceeds file size")
	}

	out := make([]byte, 0, length)
	remaining := length
	pos := offset

	for remaining > 0 {
		ref, ok := manifest.ChunkAtOffset(pos)
		if !ok {
			return nil, apperrors.New(apperrors.KindChunkNotFound, "no chunk covers requested offset")
		}

		plaintext, err := o.readChunk(ctx, ref)
		if err != nil {
			return nil, err
		}

		chunkStart := pos - ref.Offset
		chunkEnd := uint64(len(plaintext))
		if chunkEnd-chunkStart > remaining {
			chunkEnd = chunkStart + remaining
		}
		out = append(out, plaintext[chunkStart:chunkEnd]...)

		consumed := chunkEnd - chunkStart
		pos += consumed
		remaining -= consumed
	}

	// A full-file read reassembles every chunk in order, so this is
	// the one place invariant 4 (file_hash == hash of the concatenated
	// plaintext chunks) can be cheaply checked without forcing partial
	// reads to fetch data outside their requested range.
	if offset == 0 && length == manifest.TotalSize && manifest.FileHash != (chunk.ID{}) {
		if got := chunk.ComputeFileHash(out); got != manifest.FileHash {
			return nil, apperrors.New(apperrors.KindChunkVerificationFail, "reassembled file hash does not match manifest")
		}
	}

	return out, nil
}

func (o *Orchestrator) readChunk(ctx context.Context, ref chunk.Ref) ([]byte, error) {
	wire, hit, err := o.cache.Get(ref.ID.String())
	if err != nil {
		return nil, err
	}
	if !hit {
		stripeRef, found, err := o.meta.GetChunkRef(ref.ID.String())
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, apperrors.New(apperrors.KindChunkNotFound, "chunk has no stripe reference")
		}
		info := decodeStripeRef(stripeRef, o.codec.DataShards(), o.codec.TotalShards()-o.codec.DataShards())

		shards, err := o.pool.DownloadBlocks(ctx, info)
		if err != nil {
			return nil, err
		}
		wire, err = o.codec.Decode(shards)
		if err != nil {
			return nil, err
		}
		if err := o.cache.Put(ref.ID.String(), wire); err != nil {
			o.log.WithError(err).Warn("failed to populate chunk cache after download")
		}
	}

	start := time.Now()
	sealed, err := cipher.FromBytes(wire)
	if err != nil {
		o.logDecrypt(ref.ID.String(), err, time.Since(start))
		return nil, err
	}
	chunkKey, err := o.master.ChunkKey(ref.ID.Bytes())
	if err != nil {
		o.logDecrypt(ref.ID.String(), err, time.Since(start))
		return nil, err
	}
	aead, err := cipher.New(chunkKey)
	if err != nil {
		o.logDecrypt(ref.ID.String(), err, time.Since(start))
		return nil, err
	}
	compressed, err := aead.Open(sealed, ref.ID.Bytes())
	o.logDecrypt(ref.ID.String(), err, time.Since(start))
	if err != nil {
		return nil, err
	}

	if ref.Compressed {
		return chunk.Decompress(compressed)
	}
	return compressed, nil
}

// Delete decrements the refcount of every chunk in manifest, deleting
// the underlying stripe and cache entry for any chunk whose refcount
// reaches zero.
func (o *Orchestrator) Delete(ctx context.Context, manifest *chunk.Manifest) error {
	for _, ref := range manifest.Chunks {
		stripeRef, deleted, err := o.meta.DecrementChunkRef(ref.ID.String())
		if err != nil {
			return err
		}
		if !deleted {
			continue
		}
		if err := o.cache.Remove(ref.ID.String()); err != nil {
			o.log.WithError(err).Warn("failed to evict chunk from cache during delete")
		}
		info := decodeStripeRef(stripeRef, o.codec.DataShards(), o.codec.TotalShards()-o.codec.DataShards())
		var deleteErr error
		for _, b := range info.Blocks {
			backend, ok := o.pool.GetBackend(b.AccountID)
			if !ok {
				continue
			}
			if err := backend.Client.DeleteBlock(ctx, b.ObjectKey); err != nil {
				deleteErr = err
				o.log.WithError(err).WithField("chunk", ref.ID.String()).Warn("failed to delete orphaned stripe block")
			}
		}
		if o.audit != nil {
			if logErr := o.audit.LogChunkDelete(ref.ID.String(), deleteErr == nil, deleteErr); logErr != nil {
				o.log.WithError(logErr).Warn("failed to record audit event")
			}
		}
	}
	return nil
}

// Truncate rewrites manifest to cover only [0, size), dropping chunks
// entirely beyond size and, for the chunk straddling the new boundary,
// re-writing it shortened. Chunks dropped outright have their
// refcounts decremented via Delete on the tail manifest, and the
// shortened manifest is published onto ino exactly as Write does.
func (o *Orchestrator) Truncate(ctx context.Context, ino uint64, manifest *chunk.Manifest, size uint64) (*chunk.Manifest, error) {
	lock := o.lockFor(ino)
	lock.Lock()
	defer lock.Unlock()

	if size >= manifest.TotalSize {
		return manifest, nil
	}

	var kept []chunk.Ref
	var tail []chunk.Ref
	var boundary *chunk.Ref
	for _, c := range manifest.Chunks {
		switch {
		case c.End() <= size:
			kept = append(kept, c)
		case c.Offset >= size:
			tail = append(tail, c)
		default:
			cp := c
			boundary = &cp
		}
	}

	if boundary != nil {
		full, err := o.Read(ctx, manifest, boundary.Offset, size-boundary.Offset)
		if err != nil {
			return nil, err
		}
		ref, err := o.writeChunk(ctx, boundary.Offset, full)
		if err != nil {
			return nil, err
		}
		kept = append(kept, ref)
		tail = append(tail, *boundary)
	}

	truncated := &chunk.Manifest{Version: manifest.Version + 1, TotalSize: size, Chunks: kept}

	content, err := o.Read(ctx, truncated, 0, size)
	if err != nil {
		return nil, err
	}
	truncated.FileHash = chunk.ComputeFileHash(content)

	in, err := o.getOrCreateInode(ino)
	if err != nil {
		return nil, err
	}
	if err := o.publishManifest(in, truncated); err != nil {
		return nil, err
	}

	if len(tail) > 0 {
		if err := o.Delete(ctx, &chunk.Manifest{Chunks: tail}); err != nil {
			o.log.WithError(err).WithField("ino", ino).Warn("failed to release truncated chunk refs")
		}
	}

	return truncated, nil
}

// DeleteFile removes ino's (parent, name) directory entry and, once
// its last hard link is gone, releases its manifest's chunk refs and
// deletes the inode row, mirroring unlink's per-path link-count
// bookkeeping (internal/metadata/hardlinks.go).
func (o *Orchestrator) DeleteFile(ctx context.Context, ino uint64) error {
	lock := o.lockFor(ino)
	lock.Lock()
	defer lock.Unlock()

	in, err := o.meta.GetInode(ino)
	if err != nil {
		return err
	}

	orphaned, err := o.meta.Unlink(in.Ino, in.ParentIno, in.Name)
	if err != nil {
		return err
	}
	if !orphaned {
		return nil
	}

	if in.ManifestID != "" {
		manifest, err := o.loadManifestByID(in.ManifestID)
		if err != nil {
			return err
		}
		if err := o.Delete(ctx, manifest); err != nil {
			return err
		}
		if err := o.meta.DeleteMetadata(manifestKey(in.ManifestID)); err != nil {
			return err
		}
	}

	return o.meta.DeleteInode(in)
}

// encodeStripeRef/decodeStripeRef serialize a stripe.Info as a compact
// string for storage in the metadata store's chunk row, since
// SaveChunkRef/GetChunkRef operate on opaque backend-reference
// strings rather than typed stripe.Info values.
func encodeStripeRef(info stripe.Info) string {
	s := ""
	for i, b := range info.Blocks {
		if i > 0 {
			s += ";"
		}
		s += fmt.Sprintf("%d,%d,%s", b.AccountID, b.BlockIndex, b.ObjectKey)
	}
	return s
}

func decodeStripeRef(s string, dataShards, parityShards int) stripe.Info {
	info := stripe.Info{DataCount: dataShards, ParityCount: parityShards}
	if s == "" {
		return info
	}
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ';' {
			part := s[start:i]
			var accountID uint8
			var blockIndex int
			var objectKey string
			fmt.Sscanf(part, "%d,%d,%s", &accountID, &blockIndex, &objectKey)
			info.Blocks = append(info.Blocks, stripe.BlockLocation{AccountID: accountID, BlockIndex: blockIndex, ObjectKey: objectKey})
			start = i + 1
		}
	}
	return info
}
