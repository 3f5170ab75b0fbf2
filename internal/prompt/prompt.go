// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prompt

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/beam232001/devault/pgpwordlist"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"golang.org/x/term"
)

// ProvidePrivPassphrase is used to prompt for the private passphrase
// which maybe required during upgrades.
func ProvidePrivPassphrase() ([]byte, error) {
	prompt := "Enter the private passphrase of your wallet: "
	for {
		fmt.Print(prompt)
		pass, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		pass = bytes.TrimSpace(pass)
		if len(pass) == 0 {
			continue
		}

		return pass, nil
	}
}

// promptList prompts the user with the given prefix, list of valid
// responses, and default list entry to use.  The function will repeat
// the prompt to the user until they enter a valid response.
func promptList(reader *bufio.Reader, prefix string, validResponses []string,
	defaultEntry string) (string, error) {

	// Setup the prompt according to the parameters.
	validStrings := strings.Join(validResponses, "/")
	var prompt string
	if defaultEntry != "" {
		prompt = fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
			defaultEntry)
	} else {
		prompt = fmt.Sprintf("%s (%s): ", prefix, validStrings)
	}

	// Prompt the user until one of the valid responses is given.
	for {
		fmt.Print(prompt)
		reply, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		reply = strings.TrimSpace(strings.ToLower(reply))
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}
	}
}

// promptListBool prompts the user for a boolean (yes/no) with the given
// prefix.  The function will repeat the prompt to the user until they
// enter a valid response.
func promptListBool(reader *bufio.Reader, prefix string,
	defaultEntry string) (bool, error) {

	valid := []string{"n", "no", "y", "yes"}
	response, err := promptList(reader, prefix, valid, defaultEntry)
	if err != nil {
		return false, err
	}
	return response == "yes" || response == "y", nil
}

// passPrompt prompts the user for a passphrase with the given prefix.
// The function will ask the user to confirm the passphrase and will
// repeat the prompts until they enter a matching response.
func passPrompt(reader *bufio.Reader, prefix string,
	confirm bool) ([]byte, error) {

	prompt := fmt.Sprintf("%s: ", prefix)
	for {
		fmt.Print(prompt)
		var pass []byte
		var err error
		fd := int(os.Stdin.Fd())
		if term.IsTerminal(fd) {
			pass, err = term.ReadPassword(fd)
		} else {
			pass, err = reader.ReadBytes('\n')
		}
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		pass = bytes.TrimSpace(pass)
		if !confirm {
			return pass, nil
		}

		fmt.Print("Confirm passphrase: ")
		var confirmPass []byte
		if term.IsTerminal(fd) {
			confirmPass, err = term.ReadPassword(fd)
		} else {
			confirmPass, err = reader.ReadBytes('\n')
		}
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		confirmPass = bytes.TrimSpace(confirmPass)
		if !bytes.Equal(pass, confirmPass) {
			fmt.Println("The entered passphrases do not match")
			continue
		}

		return pass, nil
	}
}

// PrivatePass prompts the user for a private passphrase.  All prompts
// are repeated until the user enters a valid response.
func PrivatePass(reader *bufio.Reader) ([]byte, error) {
	return passPrompt(reader, "Enter the private passphrase for your "+
		"new wallet", true)
}

// Seed prompts the user whether they want to use an existing wallet
// generation seed.  When the user answers no, a new seed will be
// generated and displayed to the user as a word list along with prompts
// for confirmation.  When the user answers yes, the user is prompted
// for it, either as a word list or as hexadecimal.
func Seed(reader *bufio.Reader) ([]byte, error) {
	// Ascertain the wallet generation seed.
	useUserSeed, err := promptListBool(reader, "Do you have an "+
		"existing wallet seed you want to use?", "no")
	if err != nil {
		return nil, err
	}
	if !useUserSeed {
		seed, err := hdkeychain.GenerateSeed(
			hdkeychain.RecommendedSeedLen)
		if err != nil {
			return nil, err
		}

		words, err := pgpwordlist.ToStringChecksum(seed)
		if err != nil {
			return nil, err
		}

		fmt.Println("Your wallet generation seed is:")
		fmt.Printf("\n%s\n\n", words)
		fmt.Println("IMPORTANT: Keep the seed in a safe place as you " +
			"will NOT be able to restore your wallet without it.")
		fmt.Println("Please keep in mind that anyone who has access " +
			"to the seed can also restore your wallet thereby " +
			"giving them access to all your funds, so it is " +
			"imperative that you keep it in a secure location.")

		for {
			fmt.Print(`Once you have stored the seed in a safe ` +
				`and secure location, enter "OK" to continue: `)
			confirmSeed, err := reader.ReadString('\n')
			if err != nil {
				return nil, err
			}
			confirmSeed = strings.TrimSpace(confirmSeed)
			confirmSeed = strings.Trim(confirmSeed, `"`)
			if strings.EqualFold("OK", confirmSeed) {
				break
			}
		}

		return seed, nil
	}

	for {
		fmt.Print("Enter existing wallet seed " +
			"(word list or hexadecimal): ")
		seedStr, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		seedStr = strings.TrimSpace(strings.ToLower(seedStr))

		// A multi-word entry is a mnemonic with its checksum word.
		if strings.Contains(seedStr, " ") {
			seed, err := pgpwordlist.ToBytesChecksum(seedStr)
			if err != nil {
				fmt.Printf("Invalid seed word list: %v\n", err)
				continue
			}
			return seed, nil
		}

		seed, err := hex.DecodeString(seedStr)
		if err != nil || len(seed) < hdkeychain.MinSeedBytes ||
			len(seed) > hdkeychain.MaxSeedBytes {

			fmt.Printf("Invalid seed specified.  Must be a word "+
				"list or a hexadecimal value that is at least "+
				"%d bits and at most %d bits\n",
				hdkeychain.MinSeedBytes*8,
				hdkeychain.MaxSeedBytes*8)
			continue
		}

		return seed, nil
	}
}
