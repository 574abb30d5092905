package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olehkaliuzhnyi/ledger-bridge/internal/ledger"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/registry"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/runner"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/transport"
	"github.com/olehkaliuzhnyi/ledger-bridge/pkg/models"
)

const channelName = "LedgerManager"

type fixture struct {
	bridge *Bridge
	store  *registry.Registry
	rec    *transport.Recorder
	client *mockClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  registry.New(),
		rec:    transport.NewRecorder(),
		client: &mockClient{fee: 100},
	}
	b, err := New(Options{
		Factory: func(models.Environment, string, string) (ledger.Client, error) {
			return f.client, nil
		},
		Emitter: transport.NewChannel(channelName, f.rec, nil),
		Store:   f.store,
		Runner:  runner.Config{MaxConcurrent: 4},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	f.bridge = b

	f.invokeOK(t, "CreateClient", `{"clientId":"c1","environment":0,"appId":"test","storeKey":""}`)
	return f
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m), s)
	return m
}

func (f *fixture) invoke(t *testing.T, method, args string) map[string]any {
	t.Helper()
	return decode(t, f.bridge.Invoke(context.Background(), method, []byte(args)))
}

func (f *fixture) invokeOK(t *testing.T, method, args string) map[string]any {
	t.Helper()
	m := f.invoke(t, method, args)
	require.NotContains(t, m, "NativeType", "%s failed: %v", method, m)
	return m
}

// terminal waits for the async work and returns the single message sent
// under the success or failure method of verb.
func (f *fixture) terminal(t *testing.T, verb string) transport.Message {
	t.Helper()
	f.bridge.Wait()
	var out []transport.Message
	for _, m := range f.rec.Messages() {
		if m.Method == verb+"Succeeded" || m.Method == verb+"Failed" {
			out = append(out, m)
		}
	}
	require.Len(t, out, 1, "exactly one terminal payload for %s", verb)
	assert.Equal(t, channelName, out[0].Channel)
	return out[0]
}

func (f *fixture) addAccount(t *testing.T, handle string) *mockAccount {
	t.Helper()
	f.invokeOK(t, "AddAccount", `{"clientId":"c1","accountId":"`+handle+`"}`)
	a, ok := registry.Lookup[ledger.Account](f.store, registry.Accounts, handle)
	require.True(t, ok)
	return a.(*mockAccount)
}

func TestAddAccount_RegistersHandle(t *testing.T) {
	f := newFixture(t)

	reply := f.invoke(t, "AddAccount", `{"clientId":"c1","accountId":"a1"}`)
	assert.Equal(t, map[string]any{"Value": "", "AccountId": "a1"}, reply)

	_, ok := f.store.Get(registry.Accounts, "a1")
	assert.True(t, ok)
	assert.Equal(t, 1, f.client.AccountCount())
}

func TestAddAccount_SDKFailure(t *testing.T) {
	f := newFixture(t)
	f.client.addErr = errNetwork

	reply := f.invoke(t, "AddAccount", `{"clientId":"c1","accountId":"a1"}`)
	assert.Equal(t, "SdkFailure", reply["NativeType"])
	assert.Contains(t, reply["Message"], "connection reset")
	_, ok := f.store.Get(registry.Accounts, "a1")
	assert.False(t, ok)
}

func TestGetBalance_Success(t *testing.T) {
	f := newFixture(t)
	a := f.addAccount(t, "a1")
	a.balance = models.NewAmount(1_050_000)

	ack := f.invokeOK(t, "GetBalance", `{"accountId":"a1"}`)
	assert.Equal(t, "", ack["Value"])

	msg := f.terminal(t, "GetBalance")
	assert.Equal(t, "GetBalanceSucceeded", msg.Method)
	assert.Equal(t, map[string]any{"Value": "10.50000", "AccountId": "a1"}, decode(t, msg.Payload))
}

func TestGetBalance_NetworkError(t *testing.T) {
	f := newFixture(t)
	a := f.addAccount(t, "a1")
	a.balanceErr = errNetwork
	before := f.store.Len(registry.Accounts)

	f.invokeOK(t, "GetBalance", `{"accountId":"a1"}`)

	msg := f.terminal(t, "GetBalance")
	assert.Equal(t, "GetBalanceFailed", msg.Method)
	body := decode(t, msg.Payload)
	assert.Equal(t, "SdkFailure", body["NativeType"])
	assert.Equal(t, "a1", body["AccountId"])
	assert.Equal(t, before, f.store.Len(registry.Accounts))
}

func TestGetStatusAndMinimumFee(t *testing.T) {
	f := newFixture(t)
	a := f.addAccount(t, "a1")
	a.status = models.AccountStatusCreated

	f.invokeOK(t, "GetStatus", `{"accountId":"a1"}`)
	msg := f.terminal(t, "GetStatus")
	assert.Equal(t, map[string]any{"Value": "2", "AccountId": "a1"}, decode(t, msg.Payload))

	f.invokeOK(t, "GetMinimumFee", `{"clientId":"c1"}`)
	msg = f.terminal(t, "GetMinimumFee")
	assert.Equal(t, "GetMinimumFeeSucceeded", msg.Method)
	assert.Equal(t, map[string]any{"Value": "100", "AccountId": "c1"}, decode(t, msg.Payload))
}

func TestBuildThenSend_ConsumesTransaction(t *testing.T) {
	f := newFixture(t)
	a := f.addAccount(t, "a1")
	a.buildID = "tx1"
	a.sendHash = "hash1"

	f.invokeOK(t, "BuildTransaction", `{"accountId":"a1","toAddress":"GDEST","kinAmount":"10.5","fee":100,"memo":""}`)
	msg := f.terminal(t, "BuildTransaction")
	require.Equal(t, "BuildTransactionSucceeded", msg.Method)
	assert.Equal(t, map[string]any{
		"AccountId":                                 "a1",
		"Id":                                        "tx1",
		"WhitelistableTransactionPayLoad":           "ZW52ZWxvcGU=",
		"WhitelistableTransactionNetworkPassphrase": "Mock Network",
	}, decode(t, msg.Payload))

	pending, ok := registry.Lookup[*ledger.Transaction](f.store, registry.Transactions, "tx1")
	require.True(t, ok)
	assert.Equal(t, "10.50000", pending.Amount.String())

	f.invokeOK(t, "SendTransaction", `{"accountId":"a1","id":"tx1"}`)
	msg = f.terminal(t, "SendTransaction")
	assert.Equal(t, "SendTransactionSucceeded", msg.Method)
	assert.Equal(t, map[string]any{"Value": "hash1", "AccountId": "a1"}, decode(t, msg.Payload))

	_, ok = f.store.Get(registry.Transactions, "tx1")
	assert.False(t, ok, "send must consume the pending transaction")
	require.Len(t, a.sent, 1)
	assert.Same(t, pending, a.sent[0])
}

func TestSendTransaction_SecondSendAlreadyConsumed(t *testing.T) {
	f := newFixture(t)
	a := f.addAccount(t, "a1")
	a.buildID = "tx1"

	f.invokeOK(t, "BuildTransaction", `{"accountId":"a1","toAddress":"GDEST","kinAmount":"1","fee":100}`)
	f.bridge.Wait()
	f.invokeOK(t, "SendTransaction", `{"accountId":"a1","id":"tx1"}`)
	f.bridge.Wait()

	f.invokeOK(t, "SendTransaction", `{"accountId":"a1","id":"tx1"}`)
	f.bridge.Wait()

	failed := f.rec.ByMethod("SendTransactionFailed")
	require.Len(t, failed, 1)
	body := decode(t, failed[0].Payload)
	assert.Equal(t, "AlreadyConsumed", body["NativeType"])
	assert.Equal(t, "a1", body["AccountId"])
	assert.Len(t, a.sent, 1)
}

func TestSendTransaction_NeverBuilt(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "a1")

	f.invokeOK(t, "SendTransaction", `{"accountId":"a1","id":"nope"}`)
	msg := f.terminal(t, "SendTransaction")
	assert.Equal(t, "SendTransactionFailed", msg.Method)
	assert.Equal(t, "NotFound", decode(t, msg.Payload)["NativeType"])
}

func TestSendWhitelistTransaction_UsesSendTags(t *testing.T) {
	f := newFixture(t)
	a := f.addAccount(t, "a1")
	a.buildID = "tx1"
	a.sendHash = "hash1"

	f.invokeOK(t, "BuildTransaction", `{"accountId":"a1","toAddress":"GDEST","kinAmount":"1","fee":0}`)
	f.bridge.Wait()
	f.invokeOK(t, "SendWhitelistTransaction", `{"accountId":"a1","id":"tx1","whitelist":"d2w="}`)

	msg := f.terminal(t, "SendTransaction")
	assert.Equal(t, "SendTransactionSucceeded", msg.Method)
	assert.Equal(t, []string{"d2w="}, a.whitelist)
	_, ok := f.store.Get(registry.Transactions, "tx1")
	assert.False(t, ok)
}

func TestBuildTransaction_InvalidArguments(t *testing.T) {
	tests := map[string]string{
		"bad amount":        `{"accountId":"a1","toAddress":"GDEST","kinAmount":"ten","fee":100}`,
		"too many decimals": `{"accountId":"a1","toAddress":"GDEST","kinAmount":"1.000001","fee":100}`,
		"negative fee":      `{"accountId":"a1","toAddress":"GDEST","kinAmount":"1","fee":-1}`,
		"fraction amount":   `{"accountId":"a1","toAddress":"GDEST","kinAmount":"1/2","fee":100}`,
		"hex amount":        `{"accountId":"a1","toAddress":"GDEST","kinAmount":"0x10","fee":100}`,
		"binary amount":     `{"accountId":"a1","toAddress":"GDEST","kinAmount":"0b101","fee":100}`,
		"octal fraction":    `{"accountId":"a1","toAddress":"GDEST","kinAmount":"010/1","fee":100}`,
		"no destination":    `{"accountId":"a1","kinAmount":"1","fee":100}`,
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.addAccount(t, "a1")

			f.invokeOK(t, "BuildTransaction", args)
			msg := f.terminal(t, "BuildTransaction")
			assert.Equal(t, "BuildTransactionFailed", msg.Method)
			body := decode(t, msg.Payload)
			assert.Equal(t, "InvalidArgument", body["NativeType"])
			assert.Equal(t, "a1", body["AccountId"])
		})
	}
}

func TestRemovedHandle_NotFound(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "a1")
	f.invokeOK(t, "FreeCachedAccount", `{"accountId":"a1"}`)

	reply := f.invoke(t, "GetPublicAddress", `{"accountId":"a1"}`)
	assert.Equal(t, "NotFound", reply["NativeType"])
	assert.Equal(t, "a1", reply["AccountId"])

	f.invokeOK(t, "GetBalance", `{"accountId":"a1"}`)
	msg := f.terminal(t, "GetBalance")
	assert.Equal(t, "NotFound", decode(t, msg.Payload)["NativeType"])

	f.invokeOK(t, "FreeCachedClient", `{"clientId":"c1"}`)
	reply = f.invoke(t, "GetAccountCount", `{"clientId":"c1"}`)
	assert.Equal(t, "NotFound", reply["NativeType"])
}

func TestGetAccount_IdentityScan(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "a1")

	reply := f.invokeOK(t, "GetAccount", `{"clientId":"c1","accountId":"a2","index":0}`)
	assert.Equal(t, "true", reply["Value"])
	_, ok := f.store.Get(registry.Accounts, "a2")
	assert.False(t, ok, "already registered account must not get a second handle")

	f.client.mu.Lock()
	f.client.accounts = append(f.client.accounts, &mockAccount{address: "GNEW"})
	f.client.mu.Unlock()
	reply = f.invokeOK(t, "GetAccount", `{"clientId":"c1","accountId":"a3","index":1}`)
	assert.Equal(t, "true", reply["Value"])
	_, ok = f.store.Get(registry.Accounts, "a3")
	assert.True(t, ok)

	reply = f.invokeOK(t, "GetAccount", `{"clientId":"c1","accountId":"a4","index":9}`)
	assert.Equal(t, "false", reply["Value"])
}

func TestDeleteAccount_IndexCheckedFirst(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "a1")

	reply := f.invoke(t, "DeleteAccount", `{"clientId":"c1","index":3}`)
	assert.Equal(t, "InvalidArgument", reply["NativeType"])
	assert.Contains(t, reply["Message"], "doesn't exist at index 3")
	assert.Equal(t, 0, f.client.deletes)

	f.invokeOK(t, "DeleteAccount", `{"clientId":"c1","index":0}`)
	assert.Equal(t, 1, f.client.deletes)
	assert.Equal(t, "0", f.invokeOK(t, "GetAccountCount", `{"clientId":"c1"}`)["Value"])
}

func TestCreateClient_Validation(t *testing.T) {
	f := newFixture(t)
	reply := f.invoke(t, "CreateClient", `{"clientId":"c2","environment":5,"appId":"test"}`)
	assert.Equal(t, "InvalidArgument", reply["NativeType"])
	reply = f.invoke(t, "CreateClient", `{"clientId":"c2","environment":1}`)
	assert.Equal(t, "InvalidArgument", reply["NativeType"])

	_, ok := f.store.Get(registry.Clients, "c2")
	assert.False(t, ok)
}

func TestImportAndExport(t *testing.T) {
	f := newFixture(t)
	f.client.importAcc = &mockAccount{address: "GIMPORTED"}

	f.invokeOK(t, "ImportAccount", `{"clientId":"c1","accountId":"a9","exportedJson":"{}","passphrase":"pw"}`)
	assert.Equal(t, "GIMPORTED", f.invokeOK(t, "GetPublicAddress", `{"accountId":"a9"}`)["Value"])

	reply := f.invoke(t, "ImportAccount", `{"clientId":"c1","accountId":"a8","exportedJson":"{}","passphrase":"bad"}`)
	assert.Equal(t, "SdkFailure", reply["NativeType"])

	// the same backup imported again resolves to the registered account
	f.invokeOK(t, "ImportAccount", `{"clientId":"c1","accountId":"a7","exportedJson":"{}","passphrase":"pw"}`)
	reply = f.invoke(t, "GetPublicAddress", `{"accountId":"a7"}`)
	assert.Equal(t, "NotFound", reply["NativeType"])
	assert.Equal(t, "GIMPORTED", f.invokeOK(t, "GetPublicAddress", `{"accountId":"a9"}`)["Value"])

	out := f.invokeOK(t, "Export", `{"accountId":"a9","passphrase":"pw"}`)
	assert.Contains(t, out["Value"], "GIMPORTED")

	reply = f.invoke(t, "Export", `{"accountId":"a9","passphrase":""}`)
	assert.Equal(t, "InvalidArgument", reply["NativeType"])
}

func TestListeners_Deduplicated(t *testing.T) {
	f := newFixture(t)
	a := f.addAccount(t, "a1")

	f.invokeOK(t, "AddPaymentListener", `{"accountId":"a1"}`)
	f.invokeOK(t, "AddPaymentListener", `{"accountId":"a1"}`)
	assert.Equal(t, 1, a.liveListeners())

	f.invokeOK(t, "AddBalanceListener", `{"accountId":"a1"}`)
	f.invokeOK(t, "AddAccountCreationListener", `{"accountId":"a1"}`)
	assert.Equal(t, 3, a.liveListeners())

	f.invokeOK(t, "RemovePaymentListener", `{"accountId":"a1"}`)
	f.invokeOK(t, "RemovePaymentListener", `{"accountId":"a1"}`)
	assert.Equal(t, 2, a.liveListeners())

	reply := f.invoke(t, "AddPaymentListener", `{"accountId":"ghost"}`)
	assert.Equal(t, "NotFound", reply["NativeType"])
	assert.Equal(t, "ghost", reply["AccountId"])

	require.NoError(t, f.bridge.Close())
	assert.Equal(t, 0, a.liveListeners())
}

func TestInvoke_UnknownMethodAndBadJSON(t *testing.T) {
	f := newFixture(t)

	reply := f.invoke(t, "Teleport", `{}`)
	assert.Equal(t, "InvalidArgument", reply["NativeType"])
	assert.NotContains(t, reply, "AccountId")

	reply = f.invoke(t, "GetBalance", `{"accountId":`)
	assert.Equal(t, "InvalidArgument", reply["NativeType"])
	assert.NotContains(t, reply, "AccountId")
	assert.Empty(t, f.rec.Messages(), "rejected invocation must not schedule work")
}

func TestAsync_ExactlyOneTerminalPayloadEach(t *testing.T) {
	f := newFixture(t)
	a := f.addAccount(t, "a1")
	a.balanceErr = errNetwork

	const n = 40
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			f.invokeOK(t, "GetBalance", `{"accountId":"a1"}`)
		} else {
			f.invokeOK(t, "GetBalance", `{"accountId":"missing"}`)
		}
	}
	msgs := f.rec.WaitFor(n, 2*time.Second)
	f.bridge.Wait()
	assert.Len(t, msgs, n)
	assert.Len(t, f.rec.Messages(), n)
}

func TestOperations_Catalogue(t *testing.T) {
	f := newFixture(t)
	assert.ElementsMatch(t, []string{
		"CreateClient", "FreeCachedClient", "ImportAccount", "GetAccountCount",
		"AddAccount", "GetAccount", "DeleteAccount", "ClearAllAccounts",
		"FreeCachedAccount", "GetPublicAddress", "Export",
		"AddPaymentListener", "RemovePaymentListener",
		"AddBalanceListener", "RemoveBalanceListener",
		"AddAccountCreationListener", "RemoveAccountCreationListener",
		"GetStatus", "GetBalance", "GetMinimumFee",
		"BuildTransaction", "SendTransaction", "SendWhitelistTransaction",
	}, f.bridge.Operations())
}

func TestNew_RequiresFactoryAndEmitter(t *testing.T) {
	_, err := New(Options{Emitter: transport.NewChannel("x", transport.NewRecorder(), nil)})
	assert.Error(t, err)
	_, err = New(Options{Factory: func(models.Environment, string, string) (ledger.Client, error) { return nil, nil }})
	assert.Error(t, err)
}
