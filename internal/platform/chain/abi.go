package chain

// managerABI covers the Puzzle Manager write methods relayed on behalf of
// players.
const managerABI = `[
  {"type":"function","name":"createListing","stateMutability":"nonpayable","inputs":[
    {"name":"sellerTokenIds","type":"uint256[]"},
    {"name":"wants","type":"string"},
    {"name":"seller","type":"address"}],"outputs":[]},
  {"type":"function","name":"deleteListings","stateMutability":"nonpayable","inputs":[
    {"name":"tokenIds","type":"uint256[][]"},
    {"name":"wanted","type":"string[]"},
    {"name":"seller","type":"address"}],"outputs":[]},
  {"type":"function","name":"fulfillListing","stateMutability":"nonpayable","inputs":[
    {"name":"sellerTokenId","type":"uint256"},
    {"name":"buyerTokenId","type":"uint256"},
    {"name":"seller","type":"address"},
    {"name":"buyer","type":"address"}],"outputs":[]},
  {"type":"function","name":"buyPackForTier","stateMutability":"nonpayable","inputs":[
    {"name":"puzzleGroupId","type":"uint256"},
    {"name":"recipient","type":"address"},
    {"name":"tier","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"unboxPack","stateMutability":"nonpayable","inputs":[
    {"name":"requestId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"claimPrize","stateMutability":"nonpayable","inputs":[
    {"name":"recipient","type":"address"},
    {"name":"puzzleId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"tradeInPiecesForPack","stateMutability":"nonpayable","inputs":[
    {"name":"pieceIds","type":"uint256[]"},
    {"name":"tier","type":"uint256"},
    {"name":"puzzleGroupId","type":"uint256"},
    {"name":"recipient","type":"address"}],"outputs":[]},
  {"type":"function","name":"transferPiece","stateMutability":"nonpayable","inputs":[
    {"name":"from","type":"address"},
    {"name":"to","type":"address"},
    {"name":"tokenId","type":"uint256"}],"outputs":[]}
]`

// pieceFactoryABI covers the single read the transfer poller needs.
const pieceFactoryABI = `[
  {"type":"function","name":"tokenURIWithoutPrefix","stateMutability":"view","inputs":[
    {"name":"tokenId","type":"uint256"}],"outputs":[
    {"name":"","type":"string"}]}
]`

// Manager method names.
const (
	MethodCreateListing        = "createListing"
	MethodDeleteListings       = "deleteListings"
	MethodFulfillListing       = "fulfillListing"
	MethodBuyPackForTier       = "buyPackForTier"
	MethodUnboxPack            = "unboxPack"
	MethodClaimPrize           = "claimPrize"
	MethodTradeInPiecesForPack = "tradeInPiecesForPack"
	MethodTransferPiece        = "transferPiece"
)
