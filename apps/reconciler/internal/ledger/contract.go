package ledger

import (
	_ "embed"
	"fmt"
	"math/big"
	"os"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/yugo-dao/yugo-sync/pkg/chain"
)

// Contract functions
const (
	FnRegisterOrganisation = "registerOrganisation"
	FnAddContest           = "addContest"
	FnCreateAction         = "createAction"
	FnAddParticipant       = "addParticipant"
	FnVoteForAction        = "voteForAction"
)

// Contract events
const (
	EventOrganizationRegistered = "OrganizationRegistered"
	EventContestCreated         = "ContestCreated"
	EventActionCreated          = "ActionCreated"
	EventParticipantWhitelisted = "ParticipantWhitelisted"
	EventReceived               = "Received"
)

//go:embed contract_abi.json
var defaultABI string

// DefaultABI parses the bundled contract ABI
func DefaultABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(defaultABI))
}

// LoadABI reads an ABI from path, or the bundled one when path is empty
func LoadABI(path string) (abi.ABI, error) {
	if path == "" {
		return DefaultABI()
	}
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to open abi: %w", err)
	}
	defer f.Close()

	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse abi %s: %w", path, err)
	}
	return parsed, nil
}

// PackCall ABI-encodes call, binding params to inputs by name
func PackCall(contract abi.ABI, call Call) ([]byte, error) {
	method, ok := contract.Methods[call.Function]
	if !ok {
		return nil, fmt.Errorf("unknown contract function %q", call.Function)
	}

	args := make([]interface{}, 0, len(method.Inputs))
	for _, input := range method.Inputs {
		v, ok := call.Param(input.Name)
		if !ok {
			return nil, fmt.Errorf("%s: missing param %s", call.Function, input.Name)
		}
		arg, err := convertArg(input.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%s: param %s: %w", call.Function, input.Name, err)
		}
		args = append(args, arg)
	}

	data, err := contract.Pack(call.Function, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", call.Function, err)
	}
	return data, nil
}

func convertArg(t abi.Type, v interface{}) (interface{}, error) {
	switch t.T {
	case abi.AddressTy:
		switch x := v.(type) {
		case common.Address:
			return x, nil
		case string:
			return chain.ToAddress(x)
		}
	case abi.UintTy, abi.IntTy:
		if t.Size <= 64 {
			return nil, fmt.Errorf("unsupported integer width %d", t.Size)
		}
		return toBig(v)
	case abi.StringTy:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case abi.BoolTy:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case abi.SliceTy:
		return convertSlice(*t.Elem, v)
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t.String())
}

func convertSlice(elem abi.Type, v interface{}) (interface{}, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("cannot use %T as %s[]", v, elem.String())
	}

	switch elem.T {
	case abi.UintTy, abi.IntTy:
		out := make([]*big.Int, rv.Len())
		for i := range out {
			b, err := convertArg(elem, rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = b.(*big.Int)
		}
		return out, nil
	case abi.AddressTy:
		out := make([]common.Address, rv.Len())
		for i := range out {
			a, err := convertArg(elem, rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = a.(common.Address)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported slice element %s", elem.String())
}

func toBig(v interface{}) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return x, nil
	case int:
		return big.NewInt(int64(x)), nil
	case int64:
		return big.NewInt(x), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case string:
		b, ok := new(big.Int).SetString(x, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", x)
		}
		return b, nil
	}
	return nil, fmt.Errorf("cannot use %T as integer", v)
}

// normalizeValue brings decoded event values into payload form
func normalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case common.Address:
		return chain.FromAddress(x)
	case []common.Address:
		out := make([]string, len(x))
		for i, a := range x {
			out[i] = chain.FromAddress(a)
		}
		return out
	case common.Hash:
		return x.Hex()
	}
	return v
}
