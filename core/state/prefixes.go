package state

// Key layout for the flat KV store. Keys stay unhashed so that big-endian
// sequence suffixes preserve FIFO order under prefix iteration.
var (
	initializedKey     = []byte("x/meta/initialized")
	currentRootKey     = []byte("x/meta/root")
	blockHeightKey     = []byte("x/meta/height")
	blockPrefix        = []byte("x/block/")
	tokenByIDPrefix    = []byte("x/token/id/")
	tokenByAddrPrefix  = []byte("x/token/addr/")
	tokenCountKey      = []byte("x/token/count")
	depositSeqKey      = []byte("x/deposit/nextseq")
	depositPrefix      = []byte("x/deposit/pending/")
	depositIndexPrefix = []byte("x/deposit/owner/")
	forcedSeqKey       = []byte("x/forced/nextseq")
	forcedOpenKey      = []byte("x/forced/open")
	forcedPrefix       = []byte("x/forced/pending/")
	forcedIndexPrefix  = []byte("x/forced/account/")
	balancePrefix      = []byte("x/balance/")
	exitPrefix         = []byte("x/exit/")
	modeKey            = []byte("x/mode")
)
