package riot

import "strings"

// Account represents the response from /riot/account/v1/accounts/by-riot-id
type Account struct {
	PUUID    string `json:"puuid"`
	GameName string `json:"gameName"`
	TagLine  string `json:"tagLine"`
}

// MatchResponse represents the response from /lol/match/v5/matches/{matchId}
type MatchResponse struct {
	Metadata MatchMetadata `json:"metadata"`
	Info     MatchInfo     `json:"info"`

	// Raw is the body as the API sent it, including fields not mapped above
	Raw []byte `json:"-"`
}

type MatchMetadata struct {
	MatchID      string   `json:"matchId"`
	Participants []string `json:"participants"` // PUUIDs
}

type MatchInfo struct {
	GameCreation int64         `json:"gameCreation"`
	GameDuration int           `json:"gameDuration"`
	GameVersion  string        `json:"gameVersion"`
	QueueID      int           `json:"queueId"`
	Participants []Participant `json:"participants"`
}

type Participant struct {
	ParticipantID      int    `json:"participantId"`
	PUUID              string `json:"puuid"`
	RiotIdGameName     string `json:"riotIdGameName"`
	RiotIdTagline      string `json:"riotIdTagline"`
	ChampionID         int    `json:"championId"`
	ChampionName       string `json:"championName"`
	TeamID             int    `json:"teamId"`
	TeamPosition       string `json:"teamPosition"` // TOP, JUNGLE, MIDDLE, BOTTOM, UTILITY
	Win                bool   `json:"win"`
	Kills              int    `json:"kills"`
	Deaths             int    `json:"deaths"`
	Assists            int    `json:"assists"`
	TotalMinionsKilled int    `json:"totalMinionsKilled"`
	GoldEarned         int    `json:"goldEarned"`
	Summoner1ID        int    `json:"summoner1Id"`
	Summoner2ID        int    `json:"summoner2Id"`
	Item0              int    `json:"item0"`
	Item1              int    `json:"item1"`
	Item2              int    `json:"item2"`
	Item3              int    `json:"item3"`
	Item4              int    `json:"item4"`
	Item5              int    `json:"item5"`
	Item6              int    `json:"item6"` // Trinket
}

// Items returns the six inventory slots, trinket excluded, in slot order
func (p Participant) Items() []int {
	return []int{p.Item0, p.Item1, p.Item2, p.Item3, p.Item4, p.Item5}
}

// PUUIDs returns every participant PUUID in the match, preferring the
// participant blocks and falling back to metadata
func (m *MatchResponse) PUUIDs() []string {
	if len(m.Info.Participants) > 0 {
		out := make([]string, 0, len(m.Info.Participants))
		for _, p := range m.Info.Participants {
			if p.PUUID != "" {
				out = append(out, p.PUUID)
			}
		}
		return out
	}
	return m.Metadata.Participants
}

// LeagueList represents the response from the apex league endpoints
type LeagueList struct {
	LeagueID string        `json:"leagueId"`
	Tier     string        `json:"tier"`
	Name     string        `json:"name"`
	Queue    string        `json:"queue"`
	Entries  []LeagueEntry `json:"entries"`
}

// LeagueEntry is a ladder row. Older payloads carry only SummonerID; newer
// ones carry PUUID as well.
type LeagueEntry struct {
	LeagueID     string `json:"leagueId,omitempty"`
	SummonerID   string `json:"summonerId,omitempty"`
	PUUID        string `json:"puuid,omitempty"`
	QueueType    string `json:"queueType,omitempty"` // RANKED_SOLO_5x5, RANKED_FLEX_SR
	Tier         string `json:"tier,omitempty"`
	Rank         string `json:"rank"` // I, II, III, IV
	LeaguePoints int    `json:"leaguePoints"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
}

// Summoner represents the response from /lol/summoner/v4/summoners/{id}
type Summoner struct {
	ID            string `json:"id"`
	AccountID     string `json:"accountId"`
	PUUID         string `json:"puuid"`
	SummonerLevel int64  `json:"summonerLevel"`
}

// Tier order for comparison (higher index = higher rank)
var TierOrder = map[string]int{
	"IRON":        0,
	"BRONZE":      1,
	"SILVER":      2,
	"GOLD":        3,
	"PLATINUM":    4,
	"EMERALD":     5,
	"DIAMOND":     6,
	"MASTER":      7,
	"GRANDMASTER": 8,
	"CHALLENGER":  9,
}

// Division order (higher index = higher rank within tier)
var DivisionOrder = map[string]int{
	"IV":  0,
	"III": 1,
	"II":  2,
	"I":   3,
}

// Divisions lists divisions from strongest to weakest
var Divisions = []string{"I", "II", "III", "IV"}

// RankScore orders ladder entries: tier first, then division, then LP.
// Unknown tiers sort below IRON.
func RankScore(tier, division string, lp int) int {
	t, ok := TierOrder[strings.ToUpper(tier)]
	if !ok {
		t = -1
	}
	d := DivisionOrder[strings.ToUpper(division)]
	if t >= TierOrder["MASTER"] {
		d = 0 // apex tiers have a single division
	}
	return (t+1)*1_000_000 + d*100_000 + lp
}

// Items that should be excluded from builds (consumables, components, etc.)
var ExcludedItems = map[int]bool{
	// Potions and consumables
	2003: true, // Health Potion
	2031: true, // Refillable Potion
	2033: true, // Corrupting Potion
	2055: true, // Control Ward
	2138: true, // Elixir of Iron
	2139: true, // Elixir of Sorcery
	2140: true, // Elixir of Wrath

	// Trinkets
	3340: true, // Stealth Ward
	3363: true, // Farsight Alteration
	3364: true, // Oracle Lens

	// Boots components
	1001: true, // Boots

	// Early components
	1036: true, // Long Sword
	1037: true, // Pickaxe
	1038: true, // BF Sword
	1052: true, // Amplifying Tome
	1058: true, // Needlessly Large Rod
	1026: true, // Blasting Wand
	1027: true, // Sapphire Crystal
	1028: true, // Ruby Crystal
	1029: true, // Cloth Armor
	1031: true, // Chain Vest
	1033: true, // Null-Magic Mantle
	1057: true, // Negatron Cloak
	1042: true, // Dagger
	1043: true, // Recurve Bow
	1018: true, // Cloak of Agility
	1053: true, // Vampiric Scepter
	1054: true, // Doran's Shield
	1055: true, // Doran's Blade
	1056: true, // Doran's Ring
	1082: true, // Dark Seal
	1083: true, // Cull
}

// IsCompletedItem returns true if the item is a completed item worth tracking
func IsCompletedItem(itemID int) bool {
	// Item ID 0 means empty slot
	if itemID == 0 {
		return false
	}
	if ExcludedItems[itemID] {
		return false
	}
	// heuristic: completed items sit at 2000 and above
	return itemID >= 2000
}

// NormalizePatch trims a game version like "15.24.734.1234" to "15.24"
func NormalizePatch(gameVersion string) string {
	parts := strings.SplitN(gameVersion, ".", 3)
	if len(parts) < 2 {
		return gameVersion
	}
	return parts[0] + "." + parts[1]
}
