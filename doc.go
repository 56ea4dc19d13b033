// Package envflash is the flash port of an environment-variable store. It
// tells the store where its partition lives and which defaults seed it, and
// provides word reads, page erases and verified word writes on top of a
// [Device].
//
// Erase is coarse: a request is rounded up to whole pages, so bytes past the
// requested size inside the last page are lost too. Write expects the target
// words to be erased; programming can only clear bits, so a rewrite without
// erase is caught by the read-back compare.
//
// # References:
//
// STM32
//   - [PM0075]: STM32F10xxx Flash memory microcontrollers programming manual (https://www.st.com/resource/en/programming_manual/pm0075-stm32f10xxx-flash-memory-microcontrollers-stmicroelectronics.pdf)
//   - [RM0008]: STM32F101xx/F102xx/F103xx/F105xx/F107xx reference manual (https://www.st.com/resource/en/reference_manual/rm0008-stm32f101xx-stm32f102xx-stm32f103xx-stm32f105xx-and-stm32f107xx-advanced-armbased-32bit-mcus-stmicroelectronics.pdf)
//   - [AN3155]: USART protocol used in the STM32 bootloader (https://www.st.com/resource/en/application_note/an3155-usart-protocol-used-in-the-stm32-bootloader-stmicroelectronics.pdf)
//
// SPI Flash
//   - [N25Q32]: N25Q032A Micron Serial NOR Flash Memory datasheet (could not find the official public URL)
//   - [W25Q128]: W25Q128JV-DTR Winbond Serial Flash Memory (https://www.winbond.com/resource-files/W25Q128JV_DTR%20RevD%2012232024%20Plus.pdf)
package envflash
