package protocol

// Request is a typed request body.
type Request interface {
	// Type of the request message.
	Type() MessageType
	// Encode the request body into the Message.
	Encode(*Message) error
	// Decode the request body from the Message.
	Decode(*Message) error
}

// LeaderRequest asks a node for the current cluster leader.
type LeaderRequest struct{}

func (LeaderRequest) Type() MessageType           { return RequestLeader }
func (LeaderRequest) Encode(m *Message) error     { m.PutUint64(0); return nil }
func (r *LeaderRequest) Decode(m *Message) error { m.Uint64(); return m.finish("Leader") }

// OpenRequest opens a named database on the connection.
type OpenRequest struct {
	Name  string
	Flags uint64
	VFS   string
}

func (OpenRequest) Type() MessageType { return RequestOpen }

func (r OpenRequest) Encode(m *Message) error {
	m.PutText(r.Name)
	m.PutUint64(r.Flags)
	m.PutText(r.VFS)
	return nil
}

func (r *OpenRequest) Decode(m *Message) error {
	r.Name, r.Flags, r.VFS = m.Text(), m.Uint64(), m.Text()
	return m.finish("Open")
}

// PrepareRequest prepares SQL against an opened database.
type PrepareRequest struct {
	DB  uint64
	SQL string
}

func (PrepareRequest) Type() MessageType { return RequestPrepare }

func (r PrepareRequest) Encode(m *Message) error {
	m.PutUint64(r.DB)
	m.PutText(r.SQL)
	return nil
}

func (r *PrepareRequest) Decode(m *Message) error {
	r.DB, r.SQL = m.Uint64(), m.Text()
	return m.finish("Prepare")
}

// ExecRequest executes a prepared statement with bound parameters.
type ExecRequest struct {
	DB     uint32
	Stmt   uint32
	Params []interface{}
}

func (ExecRequest) Type() MessageType { return RequestExec }

func (r ExecRequest) Encode(m *Message) error {
	m.PutUint32(r.DB)
	m.PutUint32(r.Stmt)
	return m.PutNamedValues(r.Params)
}

func (r *ExecRequest) Decode(m *Message) (err error) {
	r.DB, r.Stmt = m.Uint32(), m.Uint32()
	if r.Params, err = m.NamedValues(); err != nil {
		return err
	}
	return m.finish("Exec")
}

// QueryRequest queries a prepared statement with bound parameters.
type QueryRequest struct {
	DB     uint32
	Stmt   uint32
	Params []interface{}
}

func (QueryRequest) Type() MessageType { return RequestQuery }

func (r QueryRequest) Encode(m *Message) error {
	m.PutUint32(r.DB)
	m.PutUint32(r.Stmt)
	return m.PutNamedValues(r.Params)
}

func (r *QueryRequest) Decode(m *Message) (err error) {
	r.DB, r.Stmt = m.Uint32(), m.Uint32()
	if r.Params, err = m.NamedValues(); err != nil {
		return err
	}
	return m.finish("Query")
}

// FinalizeRequest releases a prepared statement.
type FinalizeRequest struct {
	DB   uint32
	Stmt uint32
}

func (FinalizeRequest) Type() MessageType { return RequestFinalize }

func (r FinalizeRequest) Encode(m *Message) error {
	m.PutUint32(r.DB)
	m.PutUint32(r.Stmt)
	return nil
}

func (r *FinalizeRequest) Decode(m *Message) error {
	r.DB, r.Stmt = m.Uint32(), m.Uint32()
	return m.finish("Finalize")
}

// AddRequest adds a node to the cluster configuration.
type AddRequest struct {
	ID      NodeID
	Address string
}

func (AddRequest) Type() MessageType { return RequestAdd }

func (r AddRequest) Encode(m *Message) error {
	m.PutUint64(r.ID)
	m.PutText(r.Address)
	return nil
}

func (r *AddRequest) Decode(m *Message) error {
	r.ID, r.Address = m.Uint64(), m.Text()
	return m.finish("Add")
}

// AssignRequest assigns a role to a node of the cluster configuration.
type AssignRequest struct {
	ID   NodeID
	Role NodeRole
}

func (AssignRequest) Type() MessageType { return RequestAssign }

func (r AssignRequest) Encode(m *Message) error {
	m.PutUint64(r.ID)
	m.PutUint64(uint64(r.Role))
	return nil
}

func (r *AssignRequest) Decode(m *Message) error {
	r.ID, r.Role = m.Uint64(), NodeRole(m.Uint64())
	return m.finish("Assign")
}

// RemoveRequest removes a node from the cluster configuration.
type RemoveRequest struct {
	ID NodeID
}

func (RemoveRequest) Type() MessageType { return RequestRemove }

func (r RemoveRequest) Encode(m *Message) error { m.PutUint64(r.ID); return nil }

func (r *RemoveRequest) Decode(m *Message) error {
	r.ID = m.Uint64()
	return m.finish("Remove")
}

// ClusterFormatV1 requests node roles in a ClusterRequest response.
const ClusterFormatV1 uint64 = 1

// ClusterRequest lists the nodes of the cluster configuration.
type ClusterRequest struct {
	Format uint64
}

func (ClusterRequest) Type() MessageType { return RequestCluster }

func (r ClusterRequest) Encode(m *Message) error { m.PutUint64(r.Format); return nil }

func (r *ClusterRequest) Decode(m *Message) error {
	r.Format = m.Uint64()
	return m.finish("Cluster")
}

// TransferRequest transfers leadership to another voting node.
type TransferRequest struct {
	ID NodeID
}

func (TransferRequest) Type() MessageType { return RequestTransfer }

func (r TransferRequest) Encode(m *Message) error { m.PutUint64(r.ID); return nil }

func (r *TransferRequest) Decode(m *Message) error {
	r.ID = m.Uint64()
	return m.finish("Transfer")
}
