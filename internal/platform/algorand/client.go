// Package algorand implements domain.Ledger on top of an algod node using
// the Algorand Go SDK. Every transaction is signed by the operator account
// the Client was built with and awaited until confirmed.
package algorand

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/abi"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// ClientConfig holds the algod connection parameters.
type ClientConfig struct {
	// Address is the algod REST endpoint, e.g. "https://testnet-api.algonode.cloud".
	Address string
	// Token is sent as X-Algo-API-Token. Public endpoints accept an empty token.
	Token string
	// WaitRounds bounds how many rounds a submitted transaction may take to confirm.
	WaitRounds uint64
}

// Client is the network client adapter for one operator account.
type Client struct {
	algod      *algod.Client
	account    crypto.Account
	signer     transaction.TransactionSigner
	waitRounds uint64
	logger     *slog.Logger
}

// New connects to algod. The returned client signs with account; read-only
// callers may pass the zero Account, in which case every write fails.
func New(cfg ClientConfig, account crypto.Account, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("algorand: address is required")
	}
	c, err := algod.MakeClient(cfg.Address, cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("algorand: make client: %w", err)
	}
	wait := cfg.WaitRounds
	if wait == 0 {
		wait = 4
	}
	return &Client{
		algod:      c,
		account:    account,
		signer:     transaction.BasicAccountTransactionSigner{Account: account},
		waitRounds: wait,
		logger:     logger.With(slog.String("component", "algod")),
	}, nil
}

// Status returns the node's last round.
func (c *Client) Status(ctx context.Context) (domain.NodeStatus, error) {
	st, err := c.algod.Status().Do(ctx)
	if err != nil {
		return domain.NodeStatus{}, fmt.Errorf("algorand: status: %w", err)
	}
	return domain.NodeStatus{LastRound: st.LastRound, CatchupTime: st.CatchupTime}, nil
}

// Operator returns the signing account's address, or "" for a read-only
// client.
func (c *Client) Operator() string {
	if len(c.account.PrivateKey) == 0 {
		return ""
	}
	return c.account.Address.String()
}

// ApplicationAddress derives the escrow address of an application.
func (c *Client) ApplicationAddress(appID uint64) string {
	return crypto.GetApplicationAddress(appID).String()
}

// AccountBalance reads the balance and minimum balance of address.
func (c *Client) AccountBalance(ctx context.Context, address string) (domain.AccountBalance, error) {
	info, err := c.algod.AccountInformation(address).Do(ctx)
	if err != nil {
		return domain.AccountBalance{}, fmt.Errorf("algorand: account %s: %w", address, err)
	}
	return domain.AccountBalance{
		Address:    address,
		Amount:     info.Amount,
		MinBalance: info.MinBalance,
	}, nil
}

// Pay sends amount microAlgos from the operator to `to` and waits for
// confirmation.
func (c *Client) Pay(ctx context.Context, to string, amount uint64, note []byte) (string, error) {
	if err := c.requireSigner(); err != nil {
		return "", err
	}
	sp, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return "", fmt.Errorf("algorand: suggested params: %w", err)
	}
	txn, err := transaction.MakePaymentTxn(c.Operator(), to, amount, note, "", sp)
	if err != nil {
		return "", fmt.Errorf("algorand: build payment: %w", err)
	}
	txID, _, err := c.submit(ctx, "pay", txn)
	return txID, err
}

// Compile compiles TEAL source on the node and returns program bytes.
func (c *Client) Compile(ctx context.Context, source []byte) ([]byte, error) {
	resp, err := c.algod.TealCompile(source).Do(ctx)
	if err != nil {
		return nil, classify("compile", err)
	}
	program, err := base64.StdEncoding.DecodeString(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("algorand: decode compiled program: %w", err)
	}
	return program, nil
}

// CreateApplication submits an application-create transaction for tmpl and
// returns the new application's id and address. Funding is left to the caller.
func (c *Client) CreateApplication(ctx context.Context, tmpl domain.AppTemplate) (domain.DeployedApp, error) {
	if err := c.requireSigner(); err != nil {
		return domain.DeployedApp{}, err
	}
	sp, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return domain.DeployedApp{}, fmt.Errorf("algorand: suggested params: %w", err)
	}
	txn, err := transaction.MakeApplicationCreateTx(
		false,
		tmpl.ApprovalProgram,
		tmpl.ClearProgram,
		types.StateSchema{NumUint: tmpl.GlobalSchema.NumUint, NumByteSlice: tmpl.GlobalSchema.NumByteSlice},
		types.StateSchema{NumUint: tmpl.LocalSchema.NumUint, NumByteSlice: tmpl.LocalSchema.NumByteSlice},
		nil, nil, nil, nil,
		sp,
		c.account.Address,
		nil,
		types.Digest{},
		[32]byte{},
		types.Address{},
	)
	if err != nil {
		return domain.DeployedApp{}, fmt.Errorf("algorand: build app create: %w", err)
	}
	txn.ExtraProgramPages = tmpl.ExtraPages

	txID, info, err := c.submit(ctx, "create application", txn)
	if err != nil {
		return domain.DeployedApp{}, err
	}
	if info.ApplicationIndex == 0 {
		return domain.DeployedApp{}, fmt.Errorf("algorand: create application %s: confirmed without application id", txID)
	}
	return domain.DeployedApp{
		AppID:   info.ApplicationIndex,
		Address: c.ApplicationAddress(info.ApplicationIndex),
		TxID:    txID,
	}, nil
}

// CallMethod invokes an ABI method. A non-nil call.Payment is grouped ahead
// of the application call and passed as the method's first ("pay") argument.
func (c *Client) CallMethod(ctx context.Context, call domain.MethodCall) (domain.MethodResult, error) {
	if err := c.requireSigner(); err != nil {
		return domain.MethodResult{}, err
	}
	method, err := abi.MethodFromSignature(call.Signature)
	if err != nil {
		return domain.MethodResult{}, fmt.Errorf("algorand: method %q: %w", call.Signature, err)
	}
	sp, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return domain.MethodResult{}, fmt.Errorf("algorand: suggested params: %w", err)
	}

	args := make([]interface{}, 0, len(call.Args)+1)
	if call.Payment != nil {
		pay, err := transaction.MakePaymentTxn(c.Operator(), call.Payment.Receiver, call.Payment.Amount, nil, "", sp)
		if err != nil {
			return domain.MethodResult{}, fmt.Errorf("algorand: build grouped payment: %w", err)
		}
		args = append(args, transaction.TransactionWithSigner{Txn: pay, Signer: c.signer})
	}
	args = append(args, call.Args...)

	boxes := make([]types.AppBoxReference, 0, len(call.Boxes))
	for _, b := range call.Boxes {
		boxes = append(boxes, types.AppBoxReference{AppID: b.AppID, Name: b.Name})
	}

	var atc transaction.AtomicTransactionComposer
	err = atc.AddMethodCall(transaction.AddMethodCallParams{
		AppID:           call.AppID,
		Method:          method,
		MethodArgs:      args,
		Sender:          c.account.Address,
		SuggestedParams: sp,
		OnComplete:      types.NoOpOC,
		Signer:          c.signer,
		BoxReferences:   boxes,
		Note:            call.Note,
	})
	if err != nil {
		return domain.MethodResult{}, fmt.Errorf("algorand: compose %s: %w", method.Name, err)
	}

	res, err := atc.Execute(c.algod, ctx, c.waitRounds)
	if err != nil {
		return domain.MethodResult{}, classify(method.Name, err)
	}

	out := domain.MethodResult{ConfirmedRound: res.ConfirmedRound}
	if n := len(res.MethodResults); n > 0 {
		last := res.MethodResults[n-1]
		if last.DecodeError != nil {
			return domain.MethodResult{}, fmt.Errorf("algorand: decode %s return: %w", method.Name, last.DecodeError)
		}
		out.TxID = last.TxID
		out.ReturnValue = last.ReturnValue
	} else if n := len(res.TxIDs); n > 0 {
		out.TxID = res.TxIDs[n-1]
	}

	c.logger.DebugContext(ctx, "method call confirmed",
		slog.String("method", method.Name),
		slog.Uint64("app_id", call.AppID),
		slog.String("tx_id", out.TxID),
		slog.Uint64("round", out.ConfirmedRound),
	)
	return out, nil
}

// DeleteApplication deletes appID. Only the creator may do so unless the
// approval program allows otherwise.
func (c *Client) DeleteApplication(ctx context.Context, appID uint64) (string, error) {
	if err := c.requireSigner(); err != nil {
		return "", err
	}
	sp, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return "", fmt.Errorf("algorand: suggested params: %w", err)
	}
	txn, err := transaction.MakeApplicationDeleteTx(
		appID, nil, nil, nil, nil,
		sp,
		c.account.Address,
		nil,
		types.Digest{},
		[32]byte{},
		types.Address{},
	)
	if err != nil {
		return "", fmt.Errorf("algorand: build app delete: %w", err)
	}
	txID, _, err := c.submit(ctx, "delete application", txn)
	return txID, err
}

// GlobalState returns the decoded global state of appID keyed by the raw key.
func (c *Client) GlobalState(ctx context.Context, appID uint64) (map[string]domain.TealValue, error) {
	app, err := c.algod.GetApplicationByID(appID).Do(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("algorand: application %d: %w", appID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("algorand: application %d: %w", appID, err)
	}
	return decodeGlobalState(app.Params.GlobalState)
}

// Box reads a box of appID. A missing box yields domain.ErrNotFound.
func (c *Client) Box(ctx context.Context, appID uint64, name []byte) ([]byte, error) {
	box, err := c.algod.GetApplicationBoxByName(appID, name).Do(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("algorand: box %q of app %d: %w", name, appID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("algorand: box %q of app %d: %w", name, appID, err)
	}
	return box.Value, nil
}

// submit signs, sends and waits for a single transaction.
func (c *Client) submit(ctx context.Context, op string, txn types.Transaction) (string, models.PendingTransactionInfoResponse, error) {
	txID, signed, err := crypto.SignTransaction(c.account.PrivateKey, txn)
	if err != nil {
		return "", models.PendingTransactionInfoResponse{}, fmt.Errorf("algorand: sign %s: %w", op, err)
	}
	if _, err := c.algod.SendRawTransaction(signed).Do(ctx); err != nil {
		return "", models.PendingTransactionInfoResponse{}, classify(op, err)
	}
	info, err := transaction.WaitForConfirmation(c.algod, txID, c.waitRounds, ctx)
	if err != nil {
		return txID, info, fmt.Errorf("algorand: wait for %s %s: %w", op, txID, err)
	}
	c.logger.DebugContext(ctx, "transaction confirmed",
		slog.String("op", op),
		slog.String("tx_id", txID),
		slog.Uint64("round", info.ConfirmedRound),
	)
	return txID, info, nil
}

func (c *Client) requireSigner() error {
	if len(c.account.PrivateKey) == 0 {
		return errors.New("algorand: client has no signing account")
	}
	return nil
}

// decodeGlobalState converts algod's base64 key/value list into TealValues.
func decodeGlobalState(kvs []models.TealKeyValue) (map[string]domain.TealValue, error) {
	out := make(map[string]domain.TealValue, len(kvs))
	for _, kv := range kvs {
		key, err := base64.StdEncoding.DecodeString(kv.Key)
		if err != nil {
			return nil, fmt.Errorf("algorand: decode state key %q: %w", kv.Key, err)
		}
		switch kv.Value.Type {
		case tealTypeUint:
			out[string(key)] = domain.TealValue{Uint: kv.Value.Uint, IsInt: true}
		case tealTypeBytes:
			val, err := base64.StdEncoding.DecodeString(kv.Value.Bytes)
			if err != nil {
				return nil, fmt.Errorf("algorand: decode state value %q: %w", key, err)
			}
			out[string(key)] = domain.TealValue{Bytes: val}
		default:
			return nil, fmt.Errorf("algorand: state key %q has unknown type %d", key, kv.Value.Type)
		}
	}
	return out, nil
}

const (
	tealTypeBytes uint64 = 1
	tealTypeUint  uint64 = 2
)

var _ domain.Ledger = (*Client)(nil)
