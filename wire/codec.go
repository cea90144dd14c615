package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const headerSize = 5

// MaxFrameSize bounds the body length a peer may declare; anything larger
// is treated as a corrupt stream.
const MaxFrameSize = 64 << 20

func writeFrame(w io.Writer, kind Kind, body interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("wire: marshal %s: %s", kind, err)
	}

	var hdr [headerSize]byte
	hdr[0] = byte(kind)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(buf)))
	_, err = w.Write(hdr[:])
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func readFrame(r io.Reader) (Kind, []byte, error) {
	var hdr [headerSize]byte
	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(hdr[1:])
	if size > MaxFrameSize {
		return 0, nil, fmt.Errorf("wire: frame of %d bytes exceeds maximum of %d", size,
			MaxFrameSize)
	}

	body := make([]byte, size)
	_, err = io.ReadFull(r, body)
	if err != nil {
		return 0, nil, err
	}
	return Kind(hdr[0]), body, nil
}

// WriteRequest frames and writes one request.
func WriteRequest(w io.Writer, req Request) error {
	return writeFrame(w, req.Kind(), req)
}

// ReadRequest reads one frame and decodes it into the request type selected
// by the frame kind.
func ReadRequest(r io.Reader) (Request, error) {
	kind, body, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	newRequest, ok := requestFactories[kind]
	if !ok {
		return nil, fmt.Errorf("wire: unexpected request kind: %s", kind)
	}

	req := newRequest()
	err = json.Unmarshal(body, req)
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal %s request: %s", kind, err)
	}
	return req, nil
}

// WriteResponse frames and writes one response; every response frame has
// kind Reply.
func WriteResponse(w io.Writer, rsp *Response) error {
	return writeFrame(w, Reply, rsp)
}

func ReadResponse(r io.Reader) (*Response, error) {
	kind, body, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	if kind != Reply {
		return nil, fmt.Errorf("wire: unexpected response kind: %s", kind)
	}

	var rsp Response
	err = json.Unmarshal(body, &rsp)
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal response: %s", err)
	}
	return &rsp, nil
}

var requestFactories = map[Kind]func() Request{
	Handshake:       func() Request { return &HandshakeRequest{} },
	Execute:         func() Request { return &ExecuteRequest{} },
	Fetch:           func() Request { return &FetchRequest{} },
	CloseCursor:     func() Request { return &CloseRequest{} },
	QueryMeta:       func() Request { return &QueryMetaRequest{} },
	Batch:           func() Request { return &BatchRequest{} },
	OrderedBatch:    func() Request { return &OrderedBatchRequest{} },
	BulkLoadBatch:   func() Request { return &BulkLoadBatchRequest{} },
	Cancel:          func() Request { return &CancelRequest{} },
	MetaTables:      func() Request { return &MetaTablesRequest{} },
	MetaColumns:     func() Request { return &MetaColumnsRequest{} },
	MetaIndexes:     func() Request { return &MetaIndexesRequest{} },
	MetaParams:      func() Request { return &MetaParamsRequest{} },
	MetaPrimaryKeys: func() Request { return &MetaPrimaryKeysRequest{} },
	MetaSchemas:     func() Request { return &MetaSchemasRequest{} },
}
