package lightning

// Wire types for the LND REST gateway. int64 fields are encoded as JSON
// strings and byte fields as standard base64, following the grpc-gateway
// mapping.

type addHoldInvoiceRequest struct {
	Memo       string `json:"memo"`
	Hash       []byte `json:"hash"`
	Value      int64  `json:"value,string"`
	Expiry     int64  `json:"expiry,string"`
	CltvExpiry uint64 `json:"cltv_expiry,string"`
}

type addHoldInvoiceResponse struct {
	PaymentRequest string `json:"payment_request"`
	AddIndex       string `json:"add_index"`
}

type settleInvoiceRequest struct {
	Preimage []byte `json:"preimage"`
}

type cancelInvoiceRequest struct {
	PaymentHash []byte `json:"payment_hash"`
}

type lookupInvoiceResponse struct {
	RHash []byte `json:"r_hash"`
	Value int64  `json:"value,string"`
	State string `json:"state"`
}

type payReqResponse struct {
	Destination string `json:"destination"`
	PaymentHash string `json:"payment_hash"`
	NumSatoshis int64  `json:"num_satoshis,string"`
	Timestamp   int64  `json:"timestamp,string"`
	Expiry      int64  `json:"expiry,string"`
	Description string `json:"description"`
}

type feeLimit struct {
	Fixed int64 `json:"fixed,string"`
}

type sendPaymentRequest struct {
	PaymentRequest string    `json:"payment_request"`
	Amt            int64     `json:"amt,string,omitempty"`
	FeeLimit       *feeLimit `json:"fee_limit,omitempty"`
}

type route struct {
	TotalFees     int64 `json:"total_fees,string"`
	TotalFeesMsat int64 `json:"total_fees_msat,string"`
}

type sendPaymentResponse struct {
	PaymentError    string `json:"payment_error"`
	PaymentPreimage []byte `json:"payment_preimage"`
	PaymentHash     []byte `json:"payment_hash"`
	PaymentRoute    *route `json:"payment_route"`
}

type trackedPayment struct {
	Status string `json:"status"`
	FeeSat int64  `json:"fee_sat,string"`
}

// trackPaymentUpdate is one line of the /v2/router/track stream.
type trackPaymentUpdate struct {
	Result *trackedPayment `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type getInfoResponse struct {
	IdentityPubkey    string `json:"identity_pubkey"`
	Alias             string `json:"alias"`
	NumActiveChannels int    `json:"num_active_channels"`
	BlockHeight       uint32 `json:"block_height"`
	SyncedToChain     bool   `json:"synced_to_chain"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}
