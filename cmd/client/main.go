// Command client is the reference chat client: it dials a server, completes
// the SYN/ACK handshake, and then reads lines from standard input, sending
// each as a CHAT_MESSAGE. Broadcasts from other room members print to
// standard output as they arrive.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"

	"chat/internal/certs"
	"chat/internal/client"
	"chat/internal/config"
	"chat/internal/protocol"
)

func main() {
	host := flag.String("host", "localhost", "server host")
	port := flag.Int("port", config.DefaultPort, "server port")
	insecure := flag.Bool("insecure", true, "skip TLS certificate verification (the server's certificate is usually self-signed in development)")
	flag.Parse()

	addr := net.JoinHostPort(*host, strconv.Itoa(*port))

	tlsConfig := certs.ClientTrustingAnyServer()
	if !*insecure {
		tlsConfig.InsecureSkipVerify = false
	}

	c, err := client.Dial(addr, tlsConfig)
	if err != nil {
		log.Fatalf("connect to %s: %v", addr, err)
	}
	defer c.Close()

	fmt.Printf("connected to %s, handshake complete\n", addr)

	go printChats(c)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := sendChatMessage(c, line); err != nil {
			log.Printf("send: %v", err)
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("stdin: %v", err)
	}
}

func sendChatMessage(c *client.Client, message string) error {
	att, err := json.Marshal(protocol.ChatMessageAttachment{Message: message})
	if err != nil {
		return err
	}
	return c.Send(protocol.Request{Query: protocol.ChatMessage, Attachment: att})
}

func printChats(c *client.Client) {
	for resp := range c.Chats() {
		var att protocol.ChatMessageAttachment
		if err := json.Unmarshal(resp.Attachment, &att); err != nil {
			continue
		}
		fmt.Println(att.Message)
	}
}
