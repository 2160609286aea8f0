package consts

const (
	// DefaultDBName is the database used by the document and graph backends.
	DefaultDBName = "tabletalk"

	// TableNameMessages is the table/collection holding transcripts.
	TableNameMessages = "tabletalk_messages"

	// KeyPrefix prefixes redis transcript keys.
	KeyPrefix = "tabletalk:session:"

	// Column names
	ColSessionID = "session_id"
	ColSeq       = "seq"
	ColRole      = "role"
	ColContent   = "content"
	ColCreatedAt = "created_at"
	ColMessages  = "messages"

	// Neo4j specific
	LabelSession  = "Session"
	LabelMessage  = "Message"
	RelHasMessage = "HAS_MESSAGE"
)
