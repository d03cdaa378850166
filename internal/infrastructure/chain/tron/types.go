package tron

import "fmt"

// TronGrid endpoints
const (
	MainnetURL = "https://api.trongrid.io"
	ShastaURL  = "https://api.shasta.trongrid.io"
	NileURL    = "https://nile.trongrid.io"

	pathSolidTxInfo      = "/walletsolidity/gettransactioninfobyid"
	pathTxInfo           = "/wallet/gettransactioninfobyid"
	pathTriggerConstant  = "/wallet/triggerconstantcontract"
	pathChainParameters  = "/wallet/getchainparameters"
	pathBroadcastHex     = "/wallet/broadcasthex"
	receiptResultSuccess = "SUCCESS"
	txResultFailed       = "FAILED"
)

type valueRequest struct {
	Value string `json:"value"`
}

// TransactionInfo is the execution record of a transaction. An empty object
// ({}) means the node has no record.
type TransactionInfo struct {
	ID             string          `json:"id"`
	BlockNumber    uint64          `json:"blockNumber"`
	BlockTimestamp int64           `json:"blockTimeStamp"`
	ContractResult []string        `json:"contractResult"`
	Receipt        TransactionRcpt `json:"receipt"`
	Log            []EventLog      `json:"log"`
	Result         string          `json:"result"`
	ResMessage     string          `json:"resMessage"`
}

type TransactionRcpt struct {
	EnergyUsageTotal int64  `json:"energy_usage_total"`
	NetUsage         int64  `json:"net_usage"`
	Result           string `json:"result"`
}

// EventLog addresses and topics are hex without the 0x41 prefix.
type EventLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

func (i *TransactionInfo) found() bool {
	return i != nil && i.ID != ""
}

func (i *TransactionInfo) failed() bool {
	if i.Result == txResultFailed {
		return true
	}
	return i.Receipt.Result != "" && i.Receipt.Result != receiptResultSuccess
}

type triggerConstantRequest struct {
	OwnerAddress     string `json:"owner_address"`
	ContractAddress  string `json:"contract_address"`
	FunctionSelector string `json:"function_selector"`
	Parameter        string `json:"parameter"`
	Visible          bool   `json:"visible"`
}

type triggerConstantResponse struct {
	ConstantResult []string `json:"constant_result"`
	Result         struct {
		Result  bool   `json:"result"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"result"`
}

type chainParametersResponse struct {
	ChainParameter []struct {
		Key   string `json:"key"`
		Value int64  `json:"value"`
	} `json:"chainParameter"`
}

type broadcastHexRequest struct {
	Transaction string `json:"transaction"`
}

type broadcastResponse struct {
	Result  bool   `json:"result"`
	TxID    string `json:"txid"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is a non-2xx TronGrid reply.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"Error"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("trongrid error (status %d): %s", e.StatusCode, e.Message)
}
