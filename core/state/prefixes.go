package state

var (
	nativeBalancePrefix = []byte("system/balance/")
	allocationPrefix    = []byte("system/allocation/")
	noncePrefix         = []byte("account/nonce/")
	mintPrefix          = []byte("token/mint/")
	tokenAccountPrefix  = []byte("token/account/")
	escrowPrefix        = []byte("escrow/record/")
	mintIndexKey        = []byte("token/mints")
)

func addressKey(prefix []byte, addr [20]byte) []byte {
	buf := make([]byte, len(prefix)+len(addr))
	copy(buf, prefix)
	copy(buf[len(prefix):], addr[:])
	return buf
}
