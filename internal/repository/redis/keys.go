package redis

import "fmt"

const ns = "rpv3:v1"

func KeyTicketList() string {
	return ns + ":tickets:all"
}

func KeyRaffleActive() string {
	return ns + ":raffle:active"
}

func KeyIdemReserve(idemKey string) string {
	return fmt.Sprintf("%s:idem:reserve:%s", ns, idemKey)
}

func ChannelTicketEvents() string {
	return ns + ":tickets:events"
}
