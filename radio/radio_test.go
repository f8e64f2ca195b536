package radio

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func smallMTUConfig() *SimulationConfig {
	cfg := PerfectSimulationConfig()
	cfg.DefaultMTU = cfg.MinMTU
	return cfg
}

func TestScanDiscoversMatchingPeripheral(t *testing.T) {
	_, c, cd, _, _ := setupPair(t, PerfectSimulationConfig(), nil)

	c.ScanForPeripherals([]uuid.UUID{testServiceUUID})
	peer := recv(t, cd.discovered, "discovery")
	require.Equal(t, "peripheral-1", peer.ID)
	require.Equal(t, "MyPeripheral", peer.Name)
	require.True(t, c.IsScanning())

	c.StopScan()
	require.False(t, c.IsScanning())
	c.StopScan()
}

func TestScanFilterSkipsOtherServices(t *testing.T) {
	_, c, cd, _, _ := setupPair(t, PerfectSimulationConfig(), nil)

	c.ScanForPeripherals([]uuid.UUID{uuid.New()})
	select {
	case p := <-cd.discovered:
		t.Fatalf("discovered %s despite filter", p.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScanReportsPeripheralThatStartsAdvertisingLater(t *testing.T) {
	air := NewAir(PerfectSimulationConfig())
	t.Cleanup(air.Close)

	c := air.NewCentral("central-1", "Initiator")
	cd := newTestCentralDelegate()
	c.SetDelegate(cd)
	waitForState(t, cd.states, StatePoweredOn)
	c.ScanForPeripherals(nil)

	pm := air.NewPeripheralManager("peripheral-1", "Responder")
	pd := newTestPeripheralDelegate(pm, nil)
	pm.SetDelegate(pd)
	waitForState(t, pd.states, StatePoweredOn)
	require.NoError(t, pm.StartAdvertising(Advertisement{LocalName: "late"}))

	peer := recv(t, cd.discovered, "late discovery")
	require.Equal(t, "late", peer.Name)
}

func TestConnectReportsSameTag(t *testing.T) {
	air, c, cd, _, pd := setupPair(t, PerfectSimulationConfig(), nil)

	conn, _, _ := connectAndDiscover(t, c, cd)
	require.NotEqual(t, NoConn, conn)

	central := recv(t, pd.connects, "central connect")
	require.Equal(t, "central-1", central.ID)
	require.True(t, air.Connected("central-1"))
}

func TestConnectToSilentPeripheralFails(t *testing.T) {
	_, c, cd, pm, _ := setupPair(t, PerfectSimulationConfig(), nil)

	pm.StopAdvertising()
	c.Connect(Peer{ID: "peripheral-1"})

	err := recv(t, cd.failed, "connect failure")
	require.True(t, errors.Is(err, ErrConnectionFailed), "got %v", err)
}

func TestLongReadUsesOffsets(t *testing.T) {
	value := bytes.Repeat([]byte{0xAB}, 60)
	_, c, cd, _, pd := setupPair(t, smallMTUConfig(), value)

	conn, readChar, _ := connectAndDiscover(t, c, cd)
	c.ReadValue(conn, readChar)

	res := recv(t, cd.values, "read")
	require.NoError(t, res.err)
	require.Equal(t, conn, res.conn)
	require.Equal(t, value, res.value)
	require.Equal(t, []int{0, 22, 44}, pd.readOffsets())
}

func TestLongReadOfExactChunkMultipleEndsWithEmptyChunk(t *testing.T) {
	value := bytes.Repeat([]byte{0x01}, 44)
	_, c, cd, _, pd := setupPair(t, smallMTUConfig(), value)

	conn, readChar, _ := connectAndDiscover(t, c, cd)
	c.ReadValue(conn, readChar)

	res := recv(t, cd.values, "read")
	require.NoError(t, res.err)
	require.Equal(t, value, res.value)
	require.Equal(t, []int{0, 22, 44}, pd.readOffsets())
}

func TestReadErrorCarriesATTCode(t *testing.T) {
	_, c, cd, _, pd := setupPair(t, PerfectSimulationConfig(), []byte("x"))
	pd.mu.Lock()
	pd.readResult = ATTRequestNotSupported
	pd.mu.Unlock()

	conn, readChar, _ := connectAndDiscover(t, c, cd)
	c.ReadValue(conn, readChar)

	res := recv(t, cd.values, "read")
	var attErr ATTError
	require.True(t, errors.As(res.err, &attErr))
	require.Equal(t, ATTRequestNotSupported, attErr)
}

func TestWriteWithResponse(t *testing.T) {
	_, c, cd, _, pd := setupPair(t, PerfectSimulationConfig(), nil)

	conn, _, writeChar := connectAndDiscover(t, c, cd)
	c.WriteValue(conn, []byte("token"), writeChar, WriteWithResponse)

	require.Equal(t, []byte("token"), recv(t, pd.writeRequests, "write request"))
	require.NoError(t, recv(t, cd.writes, "write response"))
}

func TestWriteWithoutResponseHasNoCallback(t *testing.T) {
	_, c, cd, _, pd := setupPair(t, PerfectSimulationConfig(), nil)

	conn, _, writeChar := connectAndDiscover(t, c, cd)
	c.WriteValue(conn, []byte("fire"), writeChar, WriteWithoutResponse)

	require.Equal(t, []byte("fire"), recv(t, pd.writeRequests, "write request"))
	select {
	case err := <-cd.writes:
		t.Fatalf("unexpected write callback: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelConnectionNotifiesBothEnds(t *testing.T) {
	air, c, cd, _, pd := setupPair(t, PerfectSimulationConfig(), []byte("v"))

	conn, readChar, _ := connectAndDiscover(t, c, cd)
	recv(t, pd.connects, "central connect")

	c.CancelPeripheralConnection(conn)
	require.Equal(t, conn, recv(t, cd.disconnected, "central disconnect"))
	require.Equal(t, "central-1", recv(t, pd.disconnects, "peripheral disconnect").ID)
	require.False(t, air.Connected("central-1"))

	c.ReadValue(conn, readChar)
	res := recv(t, cd.values, "stale read")
	require.ErrorIs(t, res.err, ErrNotConnected)
}

func TestCancelPendingConnectionSuppressesOutcome(t *testing.T) {
	cfg := PerfectSimulationConfig()
	cfg.MinConnectionDelay = 50
	cfg.MaxConnectionDelay = 50
	_, c, cd, _, _ := setupPair(t, cfg, nil)

	conn := c.Connect(Peer{ID: "peripheral-1"})
	c.CancelPeripheralConnection(conn)

	select {
	case got := <-cd.connected:
		t.Fatalf("connected %s after cancel", got)
	case err := <-cd.failed:
		t.Fatalf("failure reported after cancel: %v", err)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestPowerOffDropsLinksAndState(t *testing.T) {
	air, c, cd, pm, pd := setupPair(t, PerfectSimulationConfig(), nil)

	conn, _, _ := connectAndDiscover(t, c, cd)
	air.SetPowered("peripheral-1", false)

	require.Equal(t, conn, recv(t, cd.disconnected, "disconnect"))
	waitForState(t, pd.states, StatePoweredOff)
	require.False(t, pm.IsAdvertising())
	require.Error(t, pm.StartAdvertising(Advertisement{}))

	air.SetPowered("peripheral-1", true)
	waitForState(t, pd.states, StatePoweredOn)
	require.NoError(t, pm.StartAdvertising(Advertisement{LocalName: "again"}))
}

func TestScanIgnoredWhilePoweredOff(t *testing.T) {
	air, c, cd, _, _ := setupPair(t, PerfectSimulationConfig(), nil)

	air.SetPowered("central-1", false)
	waitForState(t, cd.states, StatePoweredOff)

	c.ScanForPeripherals(nil)
	require.False(t, c.IsScanning())
}

func TestSetDelegateReportsCurrentState(t *testing.T) {
	air := NewAir(PerfectSimulationConfig())
	t.Cleanup(air.Close)

	c := air.NewCentral("central-1", "Initiator")
	require.Eventually(t, func() bool { return c.State() == StatePoweredOn }, waitTimeout, 5*time.Millisecond)

	cd := newTestCentralDelegate()
	c.SetDelegate(cd)
	require.Equal(t, StatePoweredOn, recv(t, cd.states, "state"))
}

func TestAdvertisementMap(t *testing.T) {
	tx := 4
	adv := Advertisement{LocalName: "MyPeripheral", ServiceUUIDs: []uuid.UUID{testServiceUUID}, IsConnectable: true, TxPowerLevel: &tx}

	m := adv.Map()
	require.Equal(t, "MyPeripheral", m["kCBAdvDataLocalName"])
	require.Equal(t, true, m["kCBAdvDataIsConnectable"])
	require.True(t, adv.Advertises(testServiceUUID))
	require.False(t, adv.Advertises(testReadUUID))
}

func TestSimulationConfigValidate(t *testing.T) {
	require.NoError(t, DefaultSimulationConfig().Validate())
	require.NoError(t, PerfectSimulationConfig().Validate())

	cfg := DefaultSimulationConfig()
	cfg.MinMTU = 10
	require.Error(t, cfg.Validate())

	cfg = DefaultSimulationConfig()
	cfg.ConnectionFailureRate = 1.5
	require.Error(t, cfg.Validate())

	cfg = DefaultSimulationConfig()
	cfg.MinDiscoveryDelay = 2000
	require.Error(t, cfg.Validate())
}

func TestGenerateRSSIFallsWithDistance(t *testing.T) {
	cfg := PerfectSimulationConfig()
	cfg.RSSIVariance = 0
	sim := NewSimulator(cfg)

	require.Greater(t, sim.GenerateRSSI(1), sim.GenerateRSSI(10))
}
