package registry

// ABI fragments for the vault system contracts. Method names follow the
// deployed Vault / StrategyRouter / StrategyLeverage / StrategyAaveV3
// interfaces.
const (
	ERC20ABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
	]`

	VaultABI = `[
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"assetsOut","type":"uint256"}]},
		{"name":"totalAssets","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"totalSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"totalManagedAssets","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"convertToAssets","type":"function","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"convertToShares","type":"function","stateMutability":"view","inputs":[{"name":"assets","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	RouterABI = `[
		{"name":"rebalance","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
		{"name":"harvestAll","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
		{"name":"triggerDeleverage","type":"function","stateMutability":"nonpayable","inputs":[{"name":"strategy","type":"address"},{"name":"iterations","type":"uint256"}],"outputs":[]},
		{"name":"setStrategies","type":"function","stateMutability":"nonpayable","inputs":[{"name":"strategies","type":"address[]"},{"name":"targetBps","type":"uint256[]"}],"outputs":[]},
		{"name":"getStrategies","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
		{"name":"getStrategyStats","type":"function","stateMutability":"view","inputs":[{"name":"strat","type":"address"}],"outputs":[{"name":"balance","type":"uint256"},{"name":"target","type":"uint256"},{"name":"actualPct","type":"uint256"}]},
		{"name":"getPortfolioState","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"strats","type":"address[]"},{"name":"balances","type":"uint256[]"},{"name":"targets","type":"uint256[]"}]}
	]`

	StrategyLeverageABI = `[
		{"name":"deposited","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"borrowedWETH","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"getLeverageState","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"deposited_","type":"uint256"},{"name":"borrowed_","type":"uint256"},{"name":"netExposure","type":"uint256"},{"name":"loops","type":"uint256"},{"name":"maxDepth_","type":"uint256"}]},
		{"name":"getLTV","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"paused","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
		{"name":"maxDepth","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"borrowFactor","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"togglePause","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
		{"name":"setLeverageParams","type":"function","stateMutability":"nonpayable","inputs":[{"name":"maxDepth","type":"uint256"},{"name":"borrowFactor","type":"uint256"}],"outputs":[]}
	]`

	StrategyAaveABI = `[
		{"name":"strategyBalance","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`
)
