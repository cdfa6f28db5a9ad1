package hasura

const puzzleFields = `
      id
      group_id
      name
      artwork
      description
      grid_size
      pieces
      prizes
      max_winners
      remaining_winners
      started
      completed`

const (
	fetchPuzzles = `query FetchPuzzles {
    puzzles {` + puzzleFields + `
    }
  }`

	fetchLivePuzzles = `query FetchLivePuzzles {
    puzzles(where: { _and: { started: { _eq: true }, completed: { _eq: false } } }) {` + puzzleFields + `
    }
  }`

	fetchCompletedPuzzlesForGroup = `query FetchCompletedPuzzlesForGroup($groupId: Int!) {
    puzzles(where: { group_id: { _eq: $groupId }, completed: { _eq: true } }) {
      id
      name
      artwork
    }
  }`

	subscribeCompletedPuzzlesForGroup = `subscription SubscribeToCompletedPuzzlesForGroup($groupId: Int!) {
    puzzles(where: { group_id: { _eq: $groupId }, completed: { _eq: true } }) {
      id
      name
      artwork
    }
  }`

	subscribeLivePuzzlesRemainingWinners = `subscription SubscribeToLivePuzzlesRemainingWinners {
    puzzles(where: { started: { _eq: true }, completed: { _eq: false } }) {
      id
      remaining_winners
    }
  }`

	fetchMetadatasByCIDs = `query FetchMetadatasByCIDs($cids: [String!]!) {
    metadata(where: { cid: { _in: $cids } }) {
      attributes
      cid
      description
      image_url
      name
    }
  }`

	tokenFields = `
      cid
      token_id
      owner
      timestamp
      type
      token_metadata {
        name
        description
        image_url
        attributes
      }`

	fetchTokensByOwner = `query FetchTokensByOwner($owner: String!) {
    tokens(where: { owner: { _eq: $owner } }) {` + tokenFields + `
    }
  }`

	fetchTokensByTokenIDs = `query FetchTokensByTokenIDs($tokenIds: [String!]!) {
    tokens(where: { token_id: { _in: $tokenIds } }) {` + tokenFields + `
    }
  }`

	upsertTokens = `mutation UpsertTokens($objects: [tokens_insert_input!]!) {
    insert_tokens(
      objects: $objects
      on_conflict: { constraint: tokens_pkey, update_columns: owner }
    ) {
      affected_rows
    }
  }`

	deleteTokens = `mutation DeleteTokens($pieceIds: [String!]) {
    delete_tokens(where: { token_id: { _in: $pieceIds } }) {
      affected_rows
    }
  }`

	fetchActiveBouncer = `query FetchBouncers {
    bouncers(where: { active: { _eq: true } }) {
      id
      address
      privateKey
      active
    }
    bouncers_aggregate {
      aggregate {
        count
      }
    }
  }`

	updateActiveBouncer = `mutation UpdateActiveInBouncers($nextId: Int!, $activeId: Int!) {
    setActiveFalse: update_bouncers(where: { id: { _eq: $activeId } }, _set: { active: false }) {
      affected_rows
    }
    setActiveTrue: update_bouncers(where: { id: { _eq: $nextId } }, _set: { active: true }) {
      affected_rows
    }
  }`
)
