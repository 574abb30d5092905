package bridge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olehkaliuzhnyi/ledger-bridge/internal/ledger"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/runner"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/transport"
	"github.com/olehkaliuzhnyi/ledger-bridge/pkg/models"
)

func TestMemoryLedger_EndToEnd(t *testing.T) {
	net, err := ledger.NewMemoryNetwork(ledger.NetworkConfig{Passphrase: "Bridge Test Network", MinimumFee: 100})
	require.NoError(t, err)

	rec := transport.NewRecorder()
	b, err := New(Options{
		Factory: net.Factory(),
		Emitter: transport.NewChannel(channelName, rec, nil),
		Runner:  runner.Config{MaxConcurrent: 2},
	})
	require.NoError(t, err)
	defer b.Close()

	call := func(method, args string) map[string]any {
		t.Helper()
		m := decode(t, b.Invoke(context.Background(), method, []byte(args)))
		require.NotContains(t, m, "NativeType", "%s: %v", method, m)
		return m
	}
	last := func(method string) map[string]any {
		t.Helper()
		b.Wait()
		msgs := rec.ByMethod(method)
		require.NotEmpty(t, msgs, method)
		return decode(t, msgs[len(msgs)-1].Payload)
	}

	call("CreateClient", `{"clientId":"c1","environment":0,"appId":"test","storeKey":"main"}`)
	call("AddAccount", `{"clientId":"c1","accountId":"alice"}`)
	call("AddAccount", `{"clientId":"c1","accountId":"bob"}`)
	assert.Equal(t, "2", call("GetAccountCount", `{"clientId":"c1"}`)["Value"])

	aliceAddr := call("GetPublicAddress", `{"accountId":"alice"}`)["Value"].(string)
	bobAddr := call("GetPublicAddress", `{"accountId":"bob"}`)["Value"].(string)

	call("GetStatus", `{"accountId":"alice"}`)
	assert.Equal(t, "0", last("GetStatusSucceeded")["Value"])

	call("AddAccountCreationListener", `{"accountId":"alice"}`)
	call("AddBalanceListener", `{"accountId":"bob"}`)
	call("AddPaymentListener", `{"accountId":"bob"}`)

	require.NoError(t, net.CreateAccount(aliceAddr, models.NewAmount(100*100_000)))
	require.NoError(t, net.CreateAccount(bobAddr, models.NewAmount(0)))
	assert.Equal(t, map[string]any{"Value": "", "AccountId": "alice"}, last("OnAccountCreated"))
	assert.Equal(t, map[string]any{"Value": "0.00000", "AccountId": "bob"}, last("OnBalance"))

	call("BuildTransaction", `{"accountId":"alice","toAddress":"`+bobAddr+`","kinAmount":"10","fee":100,"memo":"hi"}`)
	built := last("BuildTransactionSucceeded")
	txID := built["Id"].(string)
	assert.Len(t, txID, 64)
	assert.Equal(t, "Bridge Test Network", built["WhitelistableTransactionNetworkPassphrase"])

	call("SendTransaction", `{"accountId":"alice","id":"`+txID+`"}`)
	assert.Equal(t, map[string]any{"Value": txID, "AccountId": "alice"}, last("SendTransactionSucceeded"))

	payment := last("OnPayment")
	assert.Equal(t, "10.00000", payment["_Amount"])
	assert.Equal(t, "1-test-hi", payment["Memo"])
	assert.Equal(t, aliceAddr, payment["SourcePublicKey"])
	assert.Equal(t, bobAddr, payment["DestinationPublicKey"])
	assert.Equal(t, txID, payment["Hash"])
	assert.Equal(t, "bob", payment["AccountId"])
	assert.Equal(t, "10.00000", last("OnBalance")["Value"])

	call("GetBalance", `{"accountId":"alice"}`)
	assert.Equal(t, "89.99900", last("GetBalanceSucceeded")["Value"])

	// whitelisted payment back, fee waived
	call("BuildTransaction", `{"accountId":"bob","toAddress":"`+aliceAddr+`","kinAmount":"10","fee":0}`)
	built = last("BuildTransactionSucceeded")
	wl, err := net.Whitelist(built["WhitelistableTransactionPayLoad"].(string))
	require.NoError(t, err)
	call("SendWhitelistTransaction", `{"accountId":"bob","id":"`+built["Id"].(string)+`","whitelist":"`+wl+`"}`)
	assert.Equal(t, built["Id"], last("SendTransactionSucceeded")["Value"])
	assert.Equal(t, "0.00000", last("OnBalance")["Value"])

	// backup and restore into another store
	exported := call("Export", `{"accountId":"alice","passphrase":"pw"}`)["Value"].(string)
	call("CreateClient", `{"clientId":"c2","environment":0,"appId":"test","storeKey":"restore"}`)
	args := map[string]string{"clientId": "c2", "accountId": "alice2", "exportedJson": exported, "passphrase": "pw"}
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	call("ImportAccount", string(raw))
	assert.Equal(t, aliceAddr, call("GetPublicAddress", `{"accountId":"alice2"}`)["Value"])
	args["accountId"] = "alice3"
	raw, err = json.Marshal(args)
	require.NoError(t, err)
	call("ImportAccount", string(raw))
	dup := decode(t, b.Invoke(context.Background(), "GetPublicAddress", []byte(`{"accountId":"alice3"}`)))
	assert.Equal(t, "NotFound", dup["NativeType"])

	net.SetOffline(true)
	call("GetBalance", `{"accountId":"alice"}`)
	failed := last("GetBalanceFailed")
	assert.Equal(t, "SdkFailure", failed["NativeType"])
	assert.Equal(t, "alice", failed["AccountId"])

	require.NoError(t, b.Close())
	assert.Equal(t, 0, net.ListenerCount(bobAddr))
	assert.Equal(t, 0, net.ListenerCount(aliceAddr))
}
