package protocol

// NodeResponse identifies a node. It's the response to a LeaderRequest, where
// a zero ID indicates the responding node doesn't know of a current leader.
type NodeResponse struct {
	ID      NodeID
	Address string
}

func (NodeResponse) Type() MessageType { return ResponseNode }

func (r NodeResponse) Encode(m *Message) error {
	m.PutUint64(r.ID)
	m.PutText(r.Address)
	return nil
}

func (r *NodeResponse) Decode(m *Message) error {
	r.ID, r.Address = m.Uint64(), m.Text()
	return m.finish("Node")
}

// DbResponse carries the connection-scoped ID of an opened database.
type DbResponse struct {
	ID uint32
}

func (DbResponse) Type() MessageType { return ResponseDb }

func (r DbResponse) Encode(m *Message) error {
	m.PutUint32(r.ID)
	m.PutUint32(0)
	return nil
}

func (r *DbResponse) Decode(m *Message) error {
	r.ID = m.Uint32()
	m.Uint32() // Unused.
	return m.finish("Db")
}

// StmtResponse carries the server-assigned handle of a prepared statement.
type StmtResponse struct {
	DB     uint32
	ID     uint32
	Params uint64
}

func (StmtResponse) Type() MessageType { return ResponseStmt }

func (r StmtResponse) Encode(m *Message) error {
	m.PutUint32(r.DB)
	m.PutUint32(r.ID)
	m.PutUint64(r.Params)
	return nil
}

func (r *StmtResponse) Decode(m *Message) error {
	r.DB, r.ID, r.Params = m.Uint32(), m.Uint32(), m.Uint64()
	return m.finish("Stmt")
}

// ExecResult is the outcome of executing a statement.
type ExecResult struct {
	LastInsertID uint64
	RowsAffected uint64
}

func (ExecResult) Type() MessageType { return ResponseResult }

func (r ExecResult) Encode(m *Message) error {
	m.PutUint64(r.LastInsertID)
	m.PutUint64(r.RowsAffected)
	return nil
}

func (r *ExecResult) Decode(m *Message) error {
	r.LastInsertID, r.RowsAffected = m.Uint64(), m.Uint64()
	return m.finish("Result")
}

// EmptyResponse acknowledges a request which has no other result.
type EmptyResponse struct{}

func (EmptyResponse) Type() MessageType           { return ResponseEmpty }
func (EmptyResponse) Encode(m *Message) error     { m.PutUint64(0); return nil }
func (r *EmptyResponse) Decode(m *Message) error { m.Uint64(); return m.finish("Empty") }

// NodesResponse lists the nodes of the cluster configuration.
type NodesResponse struct {
	Nodes []Node
}

func (NodesResponse) Type() MessageType { return ResponseNodes }

func (r NodesResponse) Encode(m *Message) error {
	m.PutUint64(uint64(len(r.Nodes)))
	for _, n := range r.Nodes {
		m.PutUint64(n.ID)
		m.PutText(n.Address)
		m.PutUint64(uint64(n.Role))
	}
	return nil
}

func (r *NodesResponse) Decode(m *Message) error {
	var n = m.Uint64()
	if n > uint64(m.Remaining()/16) {
		return &ProtocolError{Type: ResponseNodes, Reason: "node count exceeds body"}
	}
	r.Nodes = make([]Node, 0, n)
	for i := uint64(0); i != n && m.err == nil; i++ {
		r.Nodes = append(r.Nodes, Node{ID: m.Uint64(), Address: m.Text(), Role: NodeRole(m.Uint64())})
	}
	return m.finish("Nodes")
}

func (FailureError) Type() MessageType { return ResponseFailure }

// Encode the FailureError as a Failure response body.
func (e FailureError) Encode(m *Message) error {
	m.PutUint64(e.Code)
	m.PutText(e.Message)
	return nil
}

// DecodeFailure decodes a Failure response body into a *FailureError. If the
// body is itself malformed, a *ProtocolError is returned instead.
func DecodeFailure(m *Message) error {
	var e = &FailureError{Code: m.Uint64(), Message: m.Text()}
	if err := m.finish("Failure"); err != nil {
		return err
	}
	return e
}

// Response is a typed response body.
type Response = Encodable

var (
	_ Request  = (*LeaderRequest)(nil)
	_ Request  = (*OpenRequest)(nil)
	_ Request  = (*PrepareRequest)(nil)
	_ Request  = (*ExecRequest)(nil)
	_ Request  = (*QueryRequest)(nil)
	_ Request  = (*FinalizeRequest)(nil)
	_ Request  = (*AddRequest)(nil)
	_ Request  = (*AssignRequest)(nil)
	_ Request  = (*RemoveRequest)(nil)
	_ Request  = (*ClusterRequest)(nil)
	_ Request  = (*TransferRequest)(nil)
	_ Response = NodeResponse{}
	_ Response = DbResponse{}
	_ Response = StmtResponse{}
	_ Response = ExecResult{}
	_ Response = EmptyResponse{}
	_ Response = NodesResponse{}
	_ Response = FailureError{}
)
