package indexer

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/blevesearch/vellum"
)

// Segment file layout (all integers little endian):
//
//	magic "CXSG" | version u16
//	document records   u32 len | payload
//	posting records    u32 len | payload, one per term, terms in byte order
//	doc table          docCount x (docID u64 | record offset u64 | length u32)
//	FST                term -> posting record offset
//	footer             docTableOff u64 | docCount u64 | fstOff u64 | fstLen u64 | totalLength u64 | magic
const (
	segmentMagic   = "CXSG"
	segmentVersion = 1
	headerSize     = 6
	docEntrySize   = 20
	footerSize     = 5*8 + 4
	segmentExt     = ".cidx"
)

type docEntry struct {
	docID  uint64
	offset uint64
	length uint32
}

func segmentName(seq uint64) string {
	return fmt.Sprintf("seg-%06d%s", seq, segmentExt)
}

func parseSegmentName(name string) (uint64, bool) {
	var seq uint64
	if _, err := fmt.Sscanf(name, "seg-%06d"+segmentExt, &seq); err != nil {
		return 0, false
	}
	return seq, segmentName(seq) == name
}

type segmentWriter struct {
	path, tmpPath string
	f             *os.File
	w             *bufio.Writer
	off           uint64
	docs          []docEntry
	lastDocID     uint64
	totalLength   uint64
	fstBuf        bytes.Buffer
	fst           *vellum.Builder
	scratch       []byte
}

func createSegment(path string) (*segmentWriter, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create segment %s: %w", tmp, err)
	}
	sw := &segmentWriter{path: path, tmpPath: tmp, f: f, w: bufio.NewWriterSize(f, 1<<16)}
	sw.fst, err = vellum.New(&sw.fstBuf, nil)
	if err != nil {
		sw.abort()
		return nil, fmt.Errorf("fst create failed: %w", err)
	}

	hdr := make([]byte, headerSize)
	copy(hdr, segmentMagic)
	binary.LittleEndian.PutUint16(hdr[4:], segmentVersion)
	if err := sw.write(hdr); err != nil {
		sw.abort()
		return nil, err
	}
	return sw, nil
}

func (sw *segmentWriter) write(p []byte) error {
	n, err := sw.w.Write(p)
	sw.off += uint64(n)
	if err != nil {
		return fmt.Errorf("write segment: %w", err)
	}
	return nil
}

func (sw *segmentWriter) writeRecord(payload []byte) (uint64, error) {
	at := sw.off
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(payload)))
	if err := sw.write(l[:]); err != nil {
		return 0, err
	}
	return at, sw.write(payload)
}

// addDocument must be called in ascending doc id order, before any addTerm.
func (sw *segmentWriter) addDocument(d *Document) error {
	if len(sw.docs) > 0 && d.DocID <= sw.lastDocID {
		return fmt.Errorf("%w: document %d written after %d", ErrCorruptSegment, d.DocID, sw.lastDocID)
	}
	b := sw.scratch[:0]
	b = binary.AppendUvarint(b, d.DocID)
	b = binary.AppendUvarint(b, uint64(d.Length))
	b = appendString(b, d.URL)
	b = appendString(b, d.Title)
	b = appendString(b, d.FullText)
	b = appendString(b, d.Category)
	b = appendString(b, d.Brand)
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(d.Price))
	sw.scratch = b

	at, err := sw.writeRecord(b)
	if err != nil {
		return err
	}
	sw.docs = append(sw.docs, docEntry{docID: d.DocID, offset: at, length: d.Length})
	sw.lastDocID = d.DocID
	sw.totalLength += uint64(d.Length)
	return nil
}

// addTerm must be called in ascending term order with postings in ascending doc id order.
func (sw *segmentWriter) addTerm(term string, postings []Posting) error {
	if len(postings) == 0 {
		return nil
	}
	b := sw.scratch[:0]
	b = binary.AppendUvarint(b, uint64(len(postings)))
	var prevDoc uint64
	for i, p := range postings {
		if i > 0 && p.DocID <= prevDoc {
			return fmt.Errorf("%w: postings of %q out of order", ErrCorruptSegment, term)
		}
		b = binary.AppendUvarint(b, p.DocID-prevDoc)
		prevDoc = p.DocID
		b = binary.AppendUvarint(b, uint64(len(p.Positions)))
		var prevPos uint32
		for _, pos := range p.Positions {
			b = binary.AppendUvarint(b, uint64(pos-prevPos))
			prevPos = pos
		}
	}
	sw.scratch = b

	at, err := sw.writeRecord(b)
	if err != nil {
		return err
	}
	if err := sw.fst.Insert([]byte(term), at); err != nil {
		return fmt.Errorf("fst insert %q: %w", term, err)
	}
	return nil
}

// finish writes the doc table, dictionary and footer, then atomically moves
// the file into place.
func (sw *segmentWriter) finish() error {
	docTableOff := sw.off
	entry := make([]byte, docEntrySize)
	for _, e := range sw.docs {
		binary.LittleEndian.PutUint64(entry[0:], e.docID)
		binary.LittleEndian.PutUint64(entry[8:], e.offset)
		binary.LittleEndian.PutUint32(entry[16:], e.length)
		if err := sw.write(entry); err != nil {
			sw.abort()
			return err
		}
	}

	if err := sw.fst.Close(); err != nil {
		sw.abort()
		return fmt.Errorf("fst close: %w", err)
	}
	fstOff := sw.off
	if err := sw.write(sw.fstBuf.Bytes()); err != nil {
		sw.abort()
		return err
	}

	footer := make([]byte, 0, footerSize)
	footer = binary.LittleEndian.AppendUint64(footer, docTableOff)
	footer = binary.LittleEndian.AppendUint64(footer, uint64(len(sw.docs)))
	footer = binary.LittleEndian.AppendUint64(footer, fstOff)
	footer = binary.LittleEndian.AppendUint64(footer, uint64(sw.fstBuf.Len()))
	footer = binary.LittleEndian.AppendUint64(footer, sw.totalLength)
	footer = append(footer, segmentMagic...)
	if err := sw.write(footer); err != nil {
		sw.abort()
		return err
	}

	if err := sw.w.Flush(); err != nil {
		sw.abort()
		return fmt.Errorf("flush segment: %w", err)
	}
	if err := sw.f.Sync(); err != nil {
		sw.abort()
		return fmt.Errorf("sync segment: %w", err)
	}
	if err := sw.f.Close(); err != nil {
		_ = os.Remove(sw.tmpPath)
		return fmt.Errorf("close segment: %w", err)
	}
	if err := os.Rename(sw.tmpPath, sw.path); err != nil {
		_ = os.Remove(sw.tmpPath)
		return fmt.Errorf("rename segment: %w", err)
	}
	syncDir(filepath.Dir(sw.path))
	return nil
}

func (sw *segmentWriter) abort() {
	_ = sw.f.Close()
	_ = os.Remove(sw.tmpPath)
}

func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

// segmentReader serves postings and documents from one segment file. The doc
// table and dictionary are held in memory; records are read on demand.
type segmentReader struct {
	path        string
	seq         uint64
	f           *os.File
	fst         *vellum.FST
	docs        []docEntry
	totalLength uint64
}

func openSegment(path string, seq uint64) (*segmentReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	r := &segmentReader{path: path, seq: seq, f: f}
	if err := r.load(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("load segment %s: %w", path, err)
	}
	return r, nil
}

func (r *segmentReader) load() error {
	st, err := r.f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()
	if size < headerSize+footerSize {
		return fmt.Errorf("%w: file too small", ErrCorruptSegment)
	}

	hdr := make([]byte, headerSize)
	if _, err := r.f.ReadAt(hdr, 0); err != nil {
		return err
	}
	if string(hdr[:4]) != segmentMagic || binary.LittleEndian.Uint16(hdr[4:]) != segmentVersion {
		return fmt.Errorf("%w: bad header", ErrCorruptSegment)
	}

	footer := make([]byte, footerSize)
	if _, err := r.f.ReadAt(footer, size-footerSize); err != nil {
		return err
	}
	if string(footer[40:]) != segmentMagic {
		return fmt.Errorf("%w: bad footer", ErrCorruptSegment)
	}
	docTableOff := binary.LittleEndian.Uint64(footer[0:])
	docCount := binary.LittleEndian.Uint64(footer[8:])
	fstOff := binary.LittleEndian.Uint64(footer[16:])
	fstLen := binary.LittleEndian.Uint64(footer[24:])
	r.totalLength = binary.LittleEndian.Uint64(footer[32:])
	if docTableOff+docCount*docEntrySize != fstOff || fstOff+fstLen != uint64(size-footerSize) {
		return fmt.Errorf("%w: inconsistent footer", ErrCorruptSegment)
	}

	table := make([]byte, docCount*docEntrySize)
	if _, err := r.f.ReadAt(table, int64(docTableOff)); err != nil {
		return err
	}
	r.docs = make([]docEntry, docCount)
	for i := range r.docs {
		e := table[i*docEntrySize:]
		r.docs[i] = docEntry{
			docID:  binary.LittleEndian.Uint64(e[0:]),
			offset: binary.LittleEndian.Uint64(e[8:]),
			length: binary.LittleEndian.Uint32(e[16:]),
		}
	}

	fstBytes := make([]byte, fstLen)
	if _, err := r.f.ReadAt(fstBytes, int64(fstOff)); err != nil {
		return err
	}
	r.fst, err = vellum.Load(fstBytes)
	if err != nil {
		return fmt.Errorf("%w: fst: %v", ErrCorruptSegment, err)
	}
	return nil
}

func (r *segmentReader) readRecord(off uint64) ([]byte, error) {
	var l [4]byte
	if _, err := r.f.ReadAt(l[:], int64(off)); err != nil {
		return nil, fmt.Errorf("read record length at %d: %w", off, err)
	}
	buf := make([]byte, binary.LittleEndian.Uint32(l[:]))
	if _, err := r.f.ReadAt(buf, int64(off)+4); err != nil {
		return nil, fmt.Errorf("read record at %d: %w", off, err)
	}
	return buf, nil
}

func (r *segmentReader) postings(term string) ([]Posting, error) {
	off, ok, err := r.fst.Get([]byte(term))
	if err != nil {
		return nil, fmt.Errorf("fst get %q: %w", term, err)
	}
	if !ok {
		return nil, nil
	}
	return r.postingsAt(off)
}

func (r *segmentReader) postingsAt(off uint64) ([]Posting, error) {
	rec, err := r.readRecord(off)
	if err != nil {
		return nil, err
	}
	d := decoder{buf: rec}
	n := d.uvarint()
	postings := make([]Posting, 0, n)
	var docID uint64
	for i := uint64(0); i < n && d.err == nil; i++ {
		docID += d.uvarint()
		count := d.uvarint()
		positions := make([]uint32, 0, count)
		var pos uint32
		for j := uint64(0); j < count && d.err == nil; j++ {
			pos += uint32(d.uvarint())
			positions = append(positions, pos)
		}
		postings = append(postings, Posting{DocID: docID, Positions: positions, TermFrequency: uint32(count)})
	}
	if d.err != nil {
		return nil, fmt.Errorf("%w: postings at %d: %v", ErrCorruptSegment, off, d.err)
	}
	return postings, nil
}

func (r *segmentReader) entry(docID uint64) (docEntry, bool) {
	i := sort.Search(len(r.docs), func(i int) bool { return r.docs[i].docID >= docID })
	if i < len(r.docs) && r.docs[i].docID == docID {
		return r.docs[i], true
	}
	return docEntry{}, false
}

func (r *segmentReader) docLength(docID uint64) (uint32, bool) {
	e, ok := r.entry(docID)
	return e.length, ok
}

func (r *segmentReader) document(docID uint64) (*Document, bool, error) {
	e, ok := r.entry(docID)
	if !ok {
		return nil, false, nil
	}
	rec, err := r.readRecord(e.offset)
	if err != nil {
		return nil, false, err
	}
	d := decoder{buf: rec}
	doc := &Document{
		DocID:    d.uvarint(),
		Length:   uint32(d.uvarint()),
		URL:      d.string(),
		Title:    d.string(),
		FullText: d.string(),
		Category: d.string(),
		Brand:    d.string(),
		Price:    math.Float64frombits(d.uint64()),
	}
	if d.err != nil || doc.DocID != docID {
		return nil, false, fmt.Errorf("%w: document %d", ErrCorruptSegment, docID)
	}
	return doc, true, nil
}

func (r *segmentReader) docCount() int { return len(r.docs) }

func (r *segmentReader) maxDocID() uint64 {
	if len(r.docs) == 0 {
		return 0
	}
	return r.docs[len(r.docs)-1].docID
}

func (r *segmentReader) close() error {
	var errs []error
	if r.fst != nil {
		errs = append(errs, r.fst.Close())
	}
	errs = append(errs, r.f.Close())
	return errors.Join(errs...)
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.err = io.ErrUnexpectedEOF
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 8 {
		d.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf)
	d.buf = d.buf[8:]
	return v
}

func (d *decoder) string() string {
	n := d.uvarint()
	if d.err != nil {
		return ""
	}
	if uint64(len(d.buf)) < n {
		d.err = io.ErrUnexpectedEOF
		return ""
	}
	s := string(d.buf[:n])
	d.buf = d.buf[n:]
	return s
}
